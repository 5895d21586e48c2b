// Package alertmgr owns the alert lifecycle: deduplication against recent
// active alerts, escalation when a new assessment outranks the stored one,
// and periodic expiry. Risk level is monotonic per alert id; the store's
// conditional write enforces that even across overlapping detection runs.
package alertmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/observability"
	"github.com/akilada/openlews/internal/store/alerts"
	"github.com/akilada/openlews/internal/store/keys"
)

// Action reports what EnsureAlert did with a detection.
type Action string

const (
	ActionCreated   Action = "created"
	ActionEscalated Action = "escalated"
	ActionRefreshed Action = "refreshed"
)

// escalation requires the same level to gain at least this much confidence.
const confidenceStep = 0.15

// casAttempts bounds the read-decide-write loop under contention.
const casAttempts = 3

// Detection is one alert-worthy finding from a detection run.
type Detection struct {
	Type       model.DetectionType
	KeySensor  string // highest-risk member for clusters, the sensor itself otherwise
	Sensors    []string
	CenterLat  float64
	CenterLon  float64
	Assessment model.Assessment
	Narrative  string
	Location   *model.ResolvedLocation
	Zone       *model.ZoneSnapshot
}

// DedupKey derives the stable alert id for this detection.
func (d Detection) DedupKey() string {
	if d.Type == model.DetectionCluster {
		return keys.ClusterAlertID(d.KeySensor)
	}
	return keys.SensorAlertID(d.KeySensor)
}

// Notifier publishes alert notifications. Failures stay inside the
// implementation; the manager never sees them.
type Notifier interface {
	Notify(ctx context.Context, a *model.Alert, action string)
}

// NopNotifier drops notifications, for runs without a broker.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *model.Alert, string) {}

type Manager struct {
	store       *alerts.Store
	notifier    Notifier
	dedupWindow time.Duration
	grace       time.Duration
	retention   time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

type Config struct {
	DedupWindow time.Duration // default 6h
	ExpireGrace time.Duration // default 24h
	Retention   time.Duration // default 30d
}

func New(store *alerts.Store, notifier Notifier, cfg Config, log zerolog.Logger) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 6 * time.Hour
	}
	if cfg.ExpireGrace <= 0 {
		cfg.ExpireGrace = 24 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	return &Manager{
		store:       store,
		notifier:    notifier,
		dedupWindow: cfg.DedupWindow,
		grace:       cfg.ExpireGrace,
		retention:   cfg.Retention,
		log:         log.With().Str("component", "alertmgr").Logger(),
		now:         time.Now,
	}
}

// WithClock pins the manager's clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// EnsureAlert creates a new alert for the detection, escalates a recent
// active one, or just refreshes its updated_at. The write is a conditional
// update retried a few times under contention.
func (m *Manager) EnsureAlert(ctx context.Context, d Detection) (*model.Alert, Action, error) {
	id := d.DedupKey()
	nowSec := m.now().Unix()

	for attempt := 0; attempt < casAttempts; attempt++ {
		existing, err := m.store.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}

		var (
			next     model.Alert
			action   Action
			expected int64
		)
		switch {
		case existing == nil || existing.Status != model.StatusActive ||
			existing.UpdatedAt < nowSec-int64(m.dedupWindow.Seconds()):
			next = m.newAlert(id, d, nowSec)
			action = ActionCreated
			if existing != nil {
				// stale or inactive alert under the same id is replaced
				expected = existing.UpdatedAt
			}
		case shouldEscalate(existing, d.Assessment):
			next = escalate(*existing, d, nowSec)
			action = ActionEscalated
			expected = existing.UpdatedAt
		default:
			next = *existing
			next.UpdatedAt = nowSec
			action = ActionRefreshed
			expected = existing.UpdatedAt
		}

		ok, err := m.store.CompareAndPut(ctx, next, expected)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			continue // lost the race, re-read and re-decide
		}

		observability.IncAlert(string(action))
		m.log.Info().
			Str("alert_id", id).
			Str("action", string(action)).
			Str("risk_level", string(next.RiskLevel)).
			Float64("confidence", next.Confidence).
			Msg("alert ensured")

		if action != ActionRefreshed {
			m.notifier.Notify(ctx, &next, string(action))
		}
		return &next, action, nil
	}
	return nil, "", errs.Errorf(errs.KindStorageTransient, "alertmgr.EnsureAlert",
		"alert %s contended beyond %d attempts", id, casAttempts)
}

func (m *Manager) newAlert(id string, d Detection, nowSec int64) model.Alert {
	return model.Alert{
		AlertID:           id,
		CreatedAt:         nowSec,
		UpdatedAt:         nowSec,
		Status:            model.StatusActive,
		RiskLevel:         d.Assessment.RiskLevel,
		Confidence:        d.Assessment.Confidence,
		LLMReasoning:      d.Assessment.Reasoning,
		TriggerFactors:    d.Assessment.TriggerFactors,
		RecommendedAction: d.Assessment.RecommendedAction,
		TimeToFailure:     d.Assessment.TimeToFailure,
		References:        d.Assessment.References,
		Narrative:         d.Narrative,
		DetectionType:     d.Type,
		SensorsAffected:   d.Sensors,
		CenterLat:         d.CenterLat,
		CenterLon:         d.CenterLon,
		Location:          d.Location,
		Zone:              d.Zone,
		EscalationHistory: []model.EscalationEntry{},
		Expiry:            nowSec + int64(m.retention.Seconds()),
	}
}

// shouldEscalate is true when the new assessment outranks the stored alert,
// or matches its level with materially higher confidence.
func shouldEscalate(existing *model.Alert, a model.Assessment) bool {
	if a.RiskLevel.Rank() > existing.RiskLevel.Rank() {
		return true
	}
	return a.RiskLevel.Rank() == existing.RiskLevel.Rank() &&
		a.Confidence >= existing.Confidence+confidenceStep
}

func escalate(a model.Alert, d Detection, nowSec int64) model.Alert {
	entry := model.EscalationEntry{
		Timestamp: nowSec,
		FromLevel: string(a.RiskLevel),
		ToLevel:   string(d.Assessment.RiskLevel),
		Reason:    escalationReason(a, d.Assessment),
	}
	a.EscalationHistory = append(a.EscalationHistory, entry)
	a.RiskLevel = d.Assessment.RiskLevel
	a.Confidence = d.Assessment.Confidence
	a.LLMReasoning = d.Assessment.Reasoning
	a.TriggerFactors = d.Assessment.TriggerFactors
	a.RecommendedAction = d.Assessment.RecommendedAction
	a.TimeToFailure = d.Assessment.TimeToFailure
	a.References = d.Assessment.References
	if d.Narrative != "" {
		a.Narrative = d.Narrative
	}
	a.SensorsAffected = d.Sensors
	a.UpdatedAt = nowSec
	return a
}

func escalationReason(existing model.Alert, a model.Assessment) string {
	if a.RiskLevel.Rank() > existing.RiskLevel.Rank() {
		return fmt.Sprintf("risk level raised from %s to %s", existing.RiskLevel, a.RiskLevel)
	}
	return fmt.Sprintf("confidence rose from %.2f to %.2f at %s",
		existing.Confidence, a.Confidence, a.RiskLevel)
}

// Expire sweeps active alerts whose updated_at has fallen behind the grace
// window and marks them expired. Returns how many were flipped.
func (m *Manager) Expire(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Unix() - int64(m.grace.Seconds())

	expired := 0
	for _, prefix := range []string{keys.ClusterAlertPrefix, keys.SensorAlertPrefix} {
		active, err := m.store.GetActiveByPrefix(ctx, prefix)
		if err != nil {
			return expired, err
		}
		for _, a := range active {
			if a.UpdatedAt >= cutoff {
				continue
			}
			ok, err := m.store.MarkExpired(ctx, a, now.Unix())
			if err != nil {
				return expired, err
			}
			if ok {
				expired++
				observability.IncAlert("expired")
				m.log.Info().Str("alert_id", a.AlertID).Msg("alert expired")
			}
		}
	}
	return expired, nil
}

// CountActive reports live active alerts across both prefixes and updates
// the gauge.
func (m *Manager) CountActive(ctx context.Context) (int, error) {
	total := 0
	for _, prefix := range []string{keys.ClusterAlertPrefix, keys.SensorAlertPrefix} {
		active, err := m.store.GetActiveByPrefix(ctx, prefix)
		if err != nil {
			return 0, err
		}
		total += len(active)
	}
	observability.SetActiveAlerts(total)
	return total, nil
}
