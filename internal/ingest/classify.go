package ingest

import "github.com/akilada/openlews/internal/model"

// High-risk event thresholds. A reading crossing any of these goes out on
// the event bus immediately, ahead of the next detection run.
const (
	highRiskMoisture     = 85.0
	highRiskPorePressure = 10.0
	highRiskTiltRate     = 5.0
	highRiskSafetyFactor = 1.2
	hazardZoneMoisture   = 70.0
)

// IsHighRisk applies the fast-path thresholds to a validated (and possibly
// enriched) reading.
func IsHighRisk(r *model.Reading) bool {
	if r.MoisturePercent >= highRiskMoisture {
		return true
	}
	if model.Float(r.PorePressureKPa, 0) >= highRiskPorePressure {
		return true
	}
	if model.Float(r.TiltRateMMHr, 0) >= highRiskTiltRate {
		return true
	}
	if sf := model.Float(r.SafetyFactor, 10); sf > 0 && sf < highRiskSafetyFactor {
		return true
	}
	if r.Zone != nil &&
		(r.Zone.HazardLevel == model.HazardHigh || r.Zone.HazardLevel == model.HazardVeryHigh) &&
		r.MoisturePercent > hazardZoneMoisture {
		return true
	}
	return false
}

// HighRiskEvent is the bus payload for a threshold crossing.
type HighRiskEvent struct {
	SensorID        string   `json:"sensor_id"`
	Timestamp       int64    `json:"timestamp"`
	Latitude        float64  `json:"latitude"`
	Longitude       float64  `json:"longitude"`
	MoisturePercent float64  `json:"moisture_percent"`
	PorePressureKPa *float64 `json:"pore_pressure_kpa,omitempty"`
	SafetyFactor    *float64 `json:"safety_factor,omitempty"`
	HazardLevel     string   `json:"hazard_level,omitempty"`
	AlertReason     string   `json:"alert_reason"`
}

func NewHighRiskEvent(r *model.Reading) HighRiskEvent {
	ev := HighRiskEvent{
		SensorID:        r.SensorID,
		Timestamp:       r.Timestamp,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		MoisturePercent: r.MoisturePercent,
		PorePressureKPa: r.PorePressureKPa,
		SafetyFactor:    r.SafetyFactor,
		AlertReason:     "Critical thresholds exceeded",
	}
	if r.Zone != nil {
		ev.HazardLevel = string(r.Zone.HazardLevel)
	}
	return ev
}
