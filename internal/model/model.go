// Package model holds the domain types shared across the pipeline.
package model

import "fmt"

// HazardLevel is the zonation severity of a hazard polygon. The wire
// representation matches the zonation dataset ("Very High", not "VeryHigh").
type HazardLevel string

const (
	HazardUnknown  HazardLevel = "Unknown"
	HazardLow      HazardLevel = "Low"
	HazardModerate HazardLevel = "Moderate"
	HazardHigh     HazardLevel = "High"
	HazardVeryHigh HazardLevel = "Very High"
)

var hazardRank = map[HazardLevel]int{
	HazardUnknown:  0,
	HazardLow:      1,
	HazardModerate: 2,
	HazardHigh:     3,
	HazardVeryHigh: 4,
}

// Rank returns the total severity ordering Unknown < Low < Moderate < High < Very High.
func (h HazardLevel) Rank() int { return hazardRank[h] }

// ParseHazardLevel normalises loader spellings; anything unrecognised is Unknown.
func ParseHazardLevel(s string) HazardLevel {
	switch s {
	case "Very High", "VeryHigh":
		return HazardVeryHigh
	case "High":
		return HazardHigh
	case "Moderate":
		return HazardModerate
	case "Low":
		return HazardLow
	default:
		return HazardUnknown
	}
}

// RiskLevel is the operator-facing alert level.
type RiskLevel string

const (
	RiskYellow RiskLevel = "Yellow"
	RiskOrange RiskLevel = "Orange"
	RiskRed    RiskLevel = "Red"
)

var riskRank = map[RiskLevel]int{RiskYellow: 1, RiskOrange: 2, RiskRed: 3}

func (r RiskLevel) Rank() int { return riskRank[r] }

func (r RiskLevel) Valid() bool { return riskRank[r] != 0 }

// AlertStatus is the lifecycle state of a durable alert.
type AlertStatus string

const (
	StatusActive       AlertStatus = "active"
	StatusAcknowledged AlertStatus = "acknowledged"
	StatusResolved     AlertStatus = "resolved"
	StatusExpired      AlertStatus = "expired"
)

// DetectionType distinguishes cluster alerts from single-sensor alerts.
type DetectionType string

const (
	DetectionCluster    DetectionType = "cluster"
	DetectionIndividual DetectionType = "individual"
)

// BBox is an inclusive lat/lon bounding box.
type BBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// HazardZone is a hazard polygon's projection into index form. Zones are
// written by the offline loader; the pipeline only reads them.
type HazardZone struct {
	ZoneID        string      `json:"zone_id"`
	HazardLevel   HazardLevel `json:"hazard_level"`
	CentroidLat   float64     `json:"centroid_lat"`
	CentroidLon   float64     `json:"centroid_lon"`
	Geohash4      string      `json:"geohash4"`
	Geohash6      string      `json:"geohash6,omitempty"`
	BoundingBox   *BBox       `json:"bounding_box,omitempty"`
	District      string      `json:"district,omitempty"`
	DSDivision    string      `json:"ds_division,omitempty"`
	GNDivision    string      `json:"gn_division,omitempty"`
	SoilType      string      `json:"soil_type,omitempty"`
	LandUse       string      `json:"land_use,omitempty"`
	LandslideType string      `json:"landslide_type,omitempty"`
	AreaSqm       float64     `json:"area_sqm,omitempty"`
	Version       int         `json:"version"`
}

// ZoneSnapshot is the slice of zone metadata stamped onto readings and alerts.
type ZoneSnapshot struct {
	ZoneID           string      `json:"zone_id"`
	HazardLevel      HazardLevel `json:"hazard_level"`
	District         string      `json:"district,omitempty"`
	DSDivision       string      `json:"ds_division,omitempty"`
	GNDivision       string      `json:"gn_division,omitempty"`
	SoilType         string      `json:"soil_type,omitempty"`
	LandUse          string      `json:"land_use,omitempty"`
	LandslideType    string      `json:"landslide_type,omitempty"`
	DistanceM        float64     `json:"distance_m"`
	CriticalMoisture float64     `json:"critical_moisture_percent,omitempty"`
}

// Snapshot projects a zone (at a given distance from the query point) into
// the form stored on readings and alerts.
func (z *HazardZone) Snapshot(distanceM float64) *ZoneSnapshot {
	if z == nil {
		return nil
	}
	return &ZoneSnapshot{
		ZoneID:        z.ZoneID,
		HazardLevel:   z.HazardLevel,
		District:      z.District,
		DSDivision:    z.DSDivision,
		GNDivision:    z.GNDivision,
		SoilType:      z.SoilType,
		LandUse:       z.LandUse,
		LandslideType: z.LandslideType,
		DistanceM:     distanceM,
	}
}

// Reading is a single validated sensor observation. Optional measurements are
// pointers so that "absent" and "zero" stay distinguishable through storage.
type Reading struct {
	SensorID  string  `json:"sensor_id"`
	Timestamp int64   `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Geohash   string  `json:"geohash"`

	MoisturePercent   float64  `json:"moisture_percent"`
	TiltXDegrees      *float64 `json:"tilt_x_degrees,omitempty"`
	TiltYDegrees      *float64 `json:"tilt_y_degrees,omitempty"`
	TiltRateMMHr      *float64 `json:"tilt_rate_mm_hr,omitempty"`
	PorePressureKPa   *float64 `json:"pore_pressure_kpa,omitempty"`
	VibrationCount    *float64 `json:"vibration_count,omitempty"`
	VibrationBaseline *float64 `json:"vibration_baseline,omitempty"`
	SafetyFactor      *float64 `json:"safety_factor,omitempty"`
	Rainfall24hMM     *float64 `json:"rainfall_24h_mm,omitempty"`
	BatteryPercent    *float64 `json:"battery_percent,omitempty"`
	TemperatureC      *float64 `json:"temperature_c,omitempty"`

	Zone     *ZoneSnapshot `json:"zone_ref,omitempty"`
	Enriched bool          `json:"enriched,omitempty"`

	IngestedAt int64 `json:"ingested_at,omitempty"`
	Expiry     int64 `json:"expiry,omitempty"`
}

// SensorAnalysis is the per-sensor result of one detection run.
type SensorAnalysis struct {
	SensorID           string        `json:"sensor_id"`
	Reading            Reading       `json:"reading"`
	BaseRisk           float64       `json:"base_risk"`
	SpatialCorrelation float64       `json:"spatial_correlation"`
	CompositeRisk      float64       `json:"composite_risk"`
	NeighbourIDs       []string      `json:"neighbour_ids,omitempty"`
	Zone               *ZoneSnapshot `json:"zone_context,omitempty"`
	CriticalMoisture   float64       `json:"critical_moisture_percent"`
}

// Cluster is a connected component of high-risk sensors.
type Cluster struct {
	Members          []string `json:"members"`
	CenterSensor     string   `json:"center_sensor"`
	CentroidLat      float64  `json:"centroid_lat"`
	CentroidLon      float64  `json:"centroid_lon"`
	AvgCompositeRisk float64  `json:"avg_composite_risk"`
	MaxCompositeRisk float64  `json:"max_composite_risk"`
}

// Assessment is the validated LLM risk judgement.
type Assessment struct {
	RiskLevel         RiskLevel `json:"risk_level"`
	Confidence        float64   `json:"confidence"`
	Reasoning         string    `json:"reasoning"`
	TriggerFactors    []string  `json:"trigger_factors"`
	RecommendedAction string    `json:"recommended_action"`
	TimeToFailure     string    `json:"time_to_failure_estimate"`
	References        []string  `json:"references,omitempty"`
}

// ResolvedLocation is a best-effort reverse-geocode of an alert position.
type ResolvedLocation struct {
	Label         string            `json:"label"`
	MapsURL       string            `json:"maps_url,omitempty"`
	DirectionsURL string            `json:"directions_url,omitempty"`
	ResolvedBy    string            `json:"resolved_by"`
	Address       map[string]string `json:"address,omitempty"`
}

// EscalationEntry records one step of an alert's escalation history.
type EscalationEntry struct {
	Timestamp int64  `json:"timestamp"`
	FromLevel string `json:"from_level"`
	ToLevel   string `json:"to_level"`
	Reason    string `json:"reason"`
}

// Alert is the durable output of the detection engine.
type Alert struct {
	AlertID           string            `json:"alert_id"`
	CreatedAt         int64             `json:"created_at"`
	UpdatedAt         int64             `json:"updated_at"`
	Status            AlertStatus       `json:"status"`
	RiskLevel         RiskLevel         `json:"risk_level"`
	Confidence        float64           `json:"confidence"`
	LLMReasoning      string            `json:"llm_reasoning,omitempty"`
	TriggerFactors    []string          `json:"trigger_factors,omitempty"`
	RecommendedAction string            `json:"recommended_action,omitempty"`
	TimeToFailure     string            `json:"time_to_failure"`
	References        []string          `json:"references,omitempty"`
	Narrative         string            `json:"narrative,omitempty"`
	DetectionType     DetectionType     `json:"detection_type"`
	SensorsAffected   []string          `json:"sensors_affected"`
	CenterLat         float64           `json:"center_lat"`
	CenterLon         float64           `json:"center_lon"`
	Location          *ResolvedLocation `json:"location,omitempty"`
	Zone              *ZoneSnapshot     `json:"zone_snapshot,omitempty"`
	EscalationHistory []EscalationEntry `json:"escalation_history"`
	Expiry            int64             `json:"expiry"`
}

// Float returns a dereferenced optional measurement, or def when absent.
func Float(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// Ptr is a literal helper for optional measurement fields.
func Ptr(v float64) *float64 { return &v }
