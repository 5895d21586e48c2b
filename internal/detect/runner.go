package detect

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/akilada/openlews/internal/alertmgr"
	"github.com/akilada/openlews/internal/llm"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/observability"
	"github.com/akilada/openlews/internal/store/telemetry"
	"github.com/akilada/openlews/internal/zoneindex"
)

// Assessor is the LLM surface the runner needs.
type Assessor interface {
	AssessRisk(ctx context.Context, actx llm.AssessmentContext) (model.Assessment, error)
	GenerateNarrative(ctx context.Context, a model.Assessment, locationLabel string) (string, error)
}

// Locator resolves coordinates into a human-readable location.
type Locator interface {
	Resolve(ctx context.Context, lat, lon float64) model.ResolvedLocation
}

// AlertSink is the alert-manager surface the runner needs.
type AlertSink interface {
	EnsureAlert(ctx context.Context, d alertmgr.Detection) (*model.Alert, alertmgr.Action, error)
	Expire(ctx context.Context, now time.Time) (int, error)
}

// Report is what one detection run returns.
type Report struct {
	SensorsAnalyzed  int     `json:"sensors_analyzed"`
	ClustersDetected int     `json:"clusters_detected"`
	AlertsCreated    int     `json:"alerts_created"`
	AlertsEscalated  int     `json:"alerts_escalated"`
	ExecutionTimeS   float64 `json:"execution_time_s"`
}

type RunnerConfig struct {
	Window        time.Duration // telemetry lookback, default 24h
	Retention     time.Duration // time-index prune horizon, default 30d
	Fanout        int           // concurrent assessments, default 8
	MaxDistanceKM float64       // zone lookup reach for un-enriched readings
	RadiusKM      float64       // zone summary radius for the LLM context
	Fusion        FusionConfig
	Scorer        ScorerConfig
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.Fanout <= 0 {
		c.Fanout = 8
	}
	if c.MaxDistanceKM <= 0 {
		c.MaxDistanceKM = 5
	}
	if c.RadiusKM <= 0 {
		c.RadiusKM = 1
	}
	return c
}

// Runner executes the periodic detection pass: telemetry window, per-sensor
// scoring, spatial fusion, clustering, LLM assessment, alert lifecycle.
type Runner struct {
	telemetry *telemetry.Store
	zones     *zoneindex.Index
	assessor  Assessor
	locator   Locator
	alerts    AlertSink
	cfg       RunnerConfig
	log       zerolog.Logger
	now       func() time.Time
}

func NewRunner(ts *telemetry.Store, zx *zoneindex.Index, assessor Assessor,
	locator Locator, alerts AlertSink, cfg RunnerConfig, log zerolog.Logger) *Runner {
	return &Runner{
		telemetry: ts,
		zones:     zx,
		assessor:  assessor,
		locator:   locator,
		alerts:    alerts,
		cfg:       cfg.withDefaults(),
		log:       log.With().Str("component", "detect").Logger(),
		now:       time.Now,
	}
}

// WithClock pins the runner's clock, for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// candidate is one alert-worthy finding awaiting assessment.
type candidate struct {
	detection model.DetectionType
	keySensor string
	members   []model.SensorAnalysis
	centerLat float64
	centerLon float64
	avgRisk   float64
	maxRisk   float64
}

// Run executes one detection pass. Per-candidate failures (LLM, storage) are
// logged and skipped; the run itself fails only when telemetry cannot be
// read at all.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	start := r.now()
	log := r.log.With().Str("run_id", fmt.Sprintf("run-%d", start.Unix())).Logger()

	if _, err := r.alerts.Expire(ctx, start); err != nil {
		log.Warn().Err(err).Msg("expiry sweep failed, continuing")
	}
	if err := r.telemetry.PruneIndex(ctx, start.Unix()-int64(r.cfg.Retention.Seconds())); err != nil {
		log.Warn().Err(err).Msg("index prune failed, continuing")
	}

	to := start.Unix()
	from := to - int64(r.cfg.Window.Seconds())
	window, err := r.telemetry.QueryWindow(ctx, from, to)
	if err != nil {
		observability.ObserveDetectRun("error", time.Since(start).Seconds())
		return Report{}, err
	}

	latest := latestPerSensor(window)
	analyses := r.score(ctx, latest, log)
	Fuse(analyses, r.cfg.Fusion)
	clusters := Clusters(analyses, r.cfg.Fusion)

	report := Report{
		SensorsAnalyzed:  len(analyses),
		ClustersDetected: len(clusters),
	}

	candidates := r.selectCandidates(analyses, clusters)
	log.Info().
		Int("sensors", len(analyses)).
		Int("clusters", len(clusters)).
		Int("candidates", len(candidates)).
		Msg("detection pass scored")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Fanout)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			action, err := r.assess(gctx, c, window, log)
			if err != nil {
				log.Warn().Err(err).
					Str("key_sensor", c.keySensor).
					Str("detection_type", string(c.detection)).
					Msg("candidate skipped")
				return nil
			}
			mu.Lock()
			switch action {
			case alertmgr.ActionCreated:
				report.AlertsCreated++
			case alertmgr.ActionEscalated:
				report.AlertsEscalated++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.ExecutionTimeS = time.Since(start).Seconds()
	observability.ObserveDetectRun("ok", report.ExecutionTimeS)
	log.Info().
		Int("alerts_created", report.AlertsCreated).
		Int("alerts_escalated", report.AlertsEscalated).
		Float64("execution_time_s", report.ExecutionTimeS).
		Msg("detection pass complete")
	return report, nil
}

// latestPerSensor collapses a window to each sensor's newest reading.
func latestPerSensor(window []model.Reading) []model.Reading {
	byID := make(map[string]model.Reading, len(window))
	for _, r := range window {
		if cur, ok := byID[r.SensorID]; !ok || r.Timestamp > cur.Timestamp {
			byID[r.SensorID] = r
		}
	}
	out := make([]model.Reading, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

// score builds one SensorAnalysis per reading. Readings that skipped ingest
// enrichment get a zone lookup here; a failed lookup degrades to the default
// critical moisture rather than dropping the sensor.
func (r *Runner) score(ctx context.Context, readings []model.Reading, log zerolog.Logger) []model.SensorAnalysis {
	analyses := make([]model.SensorAnalysis, 0, len(readings))
	for _, reading := range readings {
		zone := reading.Zone
		critical := zoneindex.DefaultCriticalMoisture
		if zone != nil && zone.CriticalMoisture > 0 {
			critical = zone.CriticalMoisture
		} else if zone == nil {
			hit, err := r.zones.Nearest(ctx, reading.Latitude, reading.Longitude, r.cfg.MaxDistanceKM)
			if err != nil {
				log.Warn().Err(err).Str("sensor_id", reading.SensorID).Msg("zone lookup failed")
			} else if hit != nil {
				zone = hit.Zone.Snapshot(hit.DistanceM)
				critical = r.zones.CriticalMoisture(hit.Zone.SoilType, hit.Zone.HazardLevel)
				zone.CriticalMoisture = critical
			}
		} else {
			critical = r.zones.CriticalMoisture(zone.SoilType, zone.HazardLevel)
		}

		analyses = append(analyses, model.SensorAnalysis{
			SensorID:         reading.SensorID,
			Reading:          reading,
			BaseRisk:         BaseRisk(&reading, critical, r.cfg.Scorer),
			Zone:             zone,
			CriticalMoisture: critical,
		})
	}
	return analyses
}

// selectCandidates applies the alerting cut: qualifying clusters plus
// non-clustered sensors whose composite risk clears the threshold.
func (r *Runner) selectCandidates(analyses []model.SensorAnalysis, clusters []model.Cluster) []candidate {
	threshold := r.cfg.Fusion.withDefaults().RiskThreshold
	byID := make(map[string]model.SensorAnalysis, len(analyses))
	for _, a := range analyses {
		byID[a.SensorID] = a
	}

	clustered := make(map[string]bool)
	var out []candidate
	for _, cl := range clusters {
		for _, id := range cl.Members {
			clustered[id] = true
		}
		if cl.AvgCompositeRisk <= threshold {
			continue
		}
		members := make([]model.SensorAnalysis, 0, len(cl.Members))
		for _, id := range cl.Members {
			members = append(members, byID[id])
		}
		out = append(out, candidate{
			detection: model.DetectionCluster,
			keySensor: cl.CenterSensor,
			members:   members,
			centerLat: cl.CentroidLat,
			centerLon: cl.CentroidLon,
			avgRisk:   cl.AvgCompositeRisk,
			maxRisk:   cl.MaxCompositeRisk,
		})
	}

	for _, a := range analyses {
		if clustered[a.SensorID] || a.CompositeRisk <= threshold {
			continue
		}
		out = append(out, candidate{
			detection: model.DetectionIndividual,
			keySensor: a.SensorID,
			members:   []model.SensorAnalysis{a},
			centerLat: a.Reading.Latitude,
			centerLon: a.Reading.Longitude,
			avgRisk:   a.CompositeRisk,
			maxRisk:   a.CompositeRisk,
		})
	}
	return out
}

// assess runs the I/O half of one candidate: location, zone summary, LLM
// assessment, optional narrative, alert upsert.
func (r *Runner) assess(ctx context.Context, c candidate, window []model.Reading, log zerolog.Logger) (alertmgr.Action, error) {
	observability.IncAssessment(string(c.detection))

	location := r.locator.Resolve(ctx, c.centerLat, c.centerLon)

	ragContext := "hazard zonation unavailable"
	if _, summary, err := r.zones.WithinRadius(ctx, c.centerLat, c.centerLon, r.cfg.RadiusKM); err == nil {
		ragContext = zoneindex.SummaryLine(r.cfg.RadiusKM, summary)
	} else {
		log.Warn().Err(err).Str("key_sensor", c.keySensor).Msg("zone summary failed")
	}
	key := c.keyAnalysis()
	if key.Zone != nil {
		ragContext += "\n" + zoneLine(key.Zone)
	}

	assessment, err := r.assessor.AssessRisk(ctx, llm.AssessmentContext{
		DetectionType:    c.headline(),
		TelemetrySummary: c.telemetrySummary(),
		SpatialContext:   c.spatialContext(),
		TemporalTrend:    temporalTrend(window, c.keySensor),
		RagContext:       ragContext,
	})
	if err != nil {
		return "", err
	}

	narrative := ""
	if assessment.RiskLevel.Rank() >= model.RiskOrange.Rank() {
		narrative, err = r.assessor.GenerateNarrative(ctx, assessment, location.Label)
		if err != nil {
			// an alert without prose still beats no alert
			log.Warn().Err(err).Str("key_sensor", c.keySensor).Msg("narrative generation failed")
			narrative = ""
		}
	}

	sensors := make([]string, 0, len(c.members))
	for _, m := range c.members {
		sensors = append(sensors, m.SensorID)
	}
	_, action, err := r.alerts.EnsureAlert(ctx, alertmgr.Detection{
		Type:       c.detection,
		KeySensor:  c.keySensor,
		Sensors:    sensors,
		CenterLat:  c.centerLat,
		CenterLon:  c.centerLon,
		Assessment: assessment,
		Narrative:  narrative,
		Location:   &location,
		Zone:       key.Zone,
	})
	if err != nil {
		return "", err
	}
	return action, nil
}

func (c candidate) keyAnalysis() model.SensorAnalysis {
	for _, m := range c.members {
		if m.SensorID == c.keySensor {
			return m
		}
	}
	return c.members[0]
}

func (c candidate) headline() string {
	if c.detection == model.DetectionCluster {
		return fmt.Sprintf("CLUSTER DETECTION: %d sensors, avg composite risk %.2f, max %.2f",
			len(c.members), c.avgRisk, c.maxRisk)
	}
	return fmt.Sprintf("INDIVIDUAL SENSOR ANALYSIS: %s, composite risk %.2f",
		c.keySensor, c.avgRisk)
}

func (c candidate) telemetrySummary() string {
	lines := make([]string, 0, len(c.members))
	for _, m := range c.members {
		lines = append(lines, readingLine(m))
	}
	return strings.Join(lines, "\n")
}

func readingLine(a model.SensorAnalysis) string {
	r := a.Reading
	var b strings.Builder
	fmt.Fprintf(&b, "%s: moisture %.1f%% (critical %.0f%%)", r.SensorID, r.MoisturePercent, a.CriticalMoisture)
	if r.TiltRateMMHr != nil {
		fmt.Fprintf(&b, ", tilt rate %.1f mm/hr", *r.TiltRateMMHr)
	}
	if r.PorePressureKPa != nil {
		fmt.Fprintf(&b, ", pore pressure %.1f kPa", *r.PorePressureKPa)
	}
	if r.SafetyFactor != nil {
		fmt.Fprintf(&b, ", safety factor %.2f", *r.SafetyFactor)
	}
	if r.Rainfall24hMM != nil {
		fmt.Fprintf(&b, ", rainfall 24h %.0f mm", *r.Rainfall24hMM)
	}
	fmt.Fprintf(&b, ", base risk %.2f, composite %.2f", a.BaseRisk, a.CompositeRisk)
	return b.String()
}

func (c candidate) spatialContext() string {
	if c.detection == model.DetectionCluster {
		return fmt.Sprintf("%d sensors form one spatial cluster centred at %.5f, %.5f; all members exceed the risk threshold",
			len(c.members), c.centerLat, c.centerLon)
	}
	a := c.members[0]
	if len(a.NeighbourIDs) == 0 {
		return fmt.Sprintf("isolated sensor at %.5f, %.5f with no neighbours in correlation range",
			c.centerLat, c.centerLon)
	}
	return fmt.Sprintf("sensor at %.5f, %.5f with %d neighbours in range, spatial correlation %.2f",
		c.centerLat, c.centerLon, len(a.NeighbourIDs), a.SpatialCorrelation)
}

// temporalTrend summarises how the key sensor moved across the window.
func temporalTrend(window []model.Reading, sensorID string) string {
	var series []model.Reading
	for _, r := range window {
		if r.SensorID == sensorID {
			series = append(series, r)
		}
	}
	if len(series) < 2 {
		return "insufficient history for a trend (single reading in window)"
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Timestamp < series[j].Timestamp })

	first, last := series[0], series[len(series)-1]
	hours := float64(last.Timestamp-first.Timestamp) / 3600
	trend := fmt.Sprintf("%s: moisture %.1f%% -> %.1f%% over %.1f h (%d readings)",
		sensorID, first.MoisturePercent, last.MoisturePercent, hours, len(series))
	if first.TiltRateMMHr != nil && last.TiltRateMMHr != nil {
		trend += fmt.Sprintf("; tilt rate %.1f -> %.1f mm/hr", *first.TiltRateMMHr, *last.TiltRateMMHr)
	}
	return trend
}

func zoneLine(z *model.ZoneSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "nearest zone %s: hazard level %s", z.ZoneID, z.HazardLevel)
	if z.SoilType != "" {
		fmt.Fprintf(&b, ", soil %s", z.SoilType)
	}
	if z.District != "" {
		fmt.Fprintf(&b, ", %s district", z.District)
	}
	if z.DistanceM > 0 {
		fmt.Fprintf(&b, ", %.0f m away", z.DistanceM)
	}
	return b.String()
}
