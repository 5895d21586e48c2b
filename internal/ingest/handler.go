package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/akilada/openlews/internal/errs"
	"github.com/akilada/openlews/internal/logger"
	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/observability"
	"github.com/akilada/openlews/internal/store/keys"
	"github.com/akilada/openlews/internal/store/telemetry"
)

// EventPublisher is the high-risk fast path to the event bus.
type EventPublisher interface {
	PublishHighRisk(ctx context.Context, ev HighRiskEvent) error
}

type Config struct {
	EnableEventPublish bool
	EnrichCacheSize    int
	Deadline           time.Duration
	RetentionDays      int
}

type Handler struct {
	store     *telemetry.Store
	enricher  *Enricher
	publisher EventPublisher
	cfg       Config
	log       *zerolog.Logger
	now       func() time.Time
}

func NewHandler(store *telemetry.Store, enricher *Enricher, publisher EventPublisher,
	cfg Config, log *zerolog.Logger) *Handler {
	if cfg.Deadline <= 0 {
		cfg.Deadline = 60 * time.Second
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	return &Handler{
		store:     store,
		enricher:  enricher,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// WithClock fixes the handler's clock; tests use it to pin ingested_at.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

type batchRequest struct {
	Telemetry []WireReading `json:"telemetry"`
}

// ItemError is one per-item failure in the response body.
type ItemError struct {
	Index    int    `json:"index"`
	SensorID string `json:"sensor_id"`
	Error    string `json:"error"`
}

// Statistics summarises one batch.
type Statistics struct {
	TotalReceived    int `json:"total_received"`
	Validated        int `json:"validated"`
	ValidationErrors int `json:"validation_errors"`
	Written          int `json:"written"`
	WriteFailures    int `json:"write_failures"`
	HighRiskEvents   int `json:"high_risk_events"`
}

type batchResponse struct {
	Message          string                   `json:"message"`
	Statistics       Statistics               `json:"statistics"`
	ValidationErrors []ItemError              `json:"validation_errors,omitempty"`
	WriteErrors      []telemetry.WriteFailure `json:"write_errors,omitempty"`
}

// ServeHTTP handles POST /ingest.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.Deadline)
	defer cancel()

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":           "malformed request body",
			"expected_format": `{"telemetry": [...]}`,
		})
		return
	}
	if len(req.Telemetry) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":           "no telemetry data provided",
			"expected_format": `{"telemetry": [...]}`,
		})
		return
	}

	resp, status := h.Process(ctx, req.Telemetry)
	writeJSON(w, status, resp)
}

// Process runs the batch pipeline: validate, enrich, classify, persist.
// Only a fatal storage error aborts; every other failure is per-item.
func (h *Handler) Process(ctx context.Context, batch []WireReading) (*batchResponse, int) {
	ctx = logger.WithComponent(ctx, "ingest")
	log := logger.FromContext(ctx, h.log)

	cache := NewRunCache(h.cfg.EnrichCacheSize)
	now := h.now().UTC()
	ingestedAt := now.Unix()
	expiry := now.AddDate(0, 0, h.cfg.RetentionDays).Unix()

	var (
		validated []model.Reading
		itemErrs  []ItemError
		highRisk  int
	)

	for i := range batch {
		wire := &batch[i]
		reading, issue := Validate(wire)
		if issue != nil {
			observability.IncReading("rejected")
			observability.IncValidationFailure(issue.Rule)
			sensorID := "unknown"
			if wire.SensorID != nil {
				sensorID = *wire.SensorID
			}
			itemErrs = append(itemErrs, ItemError{Index: i, SensorID: sensorID, Error: issue.Detail})
			log.Warn().Int("index", i).Str("sensor_id", sensorID).
				Str("rule", issue.Rule).Str("detail", issue.Detail).
				Msg("validation failed")
			continue
		}

		reading.IngestedAt = ingestedAt
		reading.Expiry = expiry

		// best effort: a zone lookup failure keeps the reading un-enriched
		if err := h.enricher.Enrich(ctx, cache, &reading); err != nil {
			log.Warn().Err(err).Str("sensor_id", reading.SensorID).Msg("enrichment skipped")
		}

		if h.cfg.EnableEventPublish && h.publisher != nil && IsHighRisk(&reading) {
			if err := h.publisher.PublishHighRisk(ctx, NewHighRiskEvent(&reading)); err != nil {
				observability.IncPublish("event", "error")
				log.Error().Err(err).Str("sensor_id", reading.SensorID).Msg("event publish failed")
			} else {
				observability.IncPublish("event", "ok")
			}
			highRisk++
		}

		validated = append(validated, reading)
	}

	var writeFailures []telemetry.WriteFailure
	written := 0
	if len(validated) > 0 {
		var err error
		writeFailures, err = h.store.PutBatch(ctx, validated)
		if err != nil {
			if errs.IsKind(err, errs.KindStorageFatal) {
				log.Error().Err(err).Msg("batch aborted")
				return &batchResponse{Message: "internal storage failure"}, http.StatusInternalServerError
			}
			// transient: the whole batch failed to land
			log.Error().Err(err).Msg("batch write failed")
			for _, r := range validated {
				writeFailures = append(writeFailures, telemetry.WriteFailure{
					SensorID: r.SensorID, Timestamp: r.Timestamp, Detail: err.Error(),
				})
			}
		}
		written = len(validated) - len(writeFailures)
		for range validated[:written] {
			observability.IncReading("stored")
		}
		for range writeFailures {
			observability.IncReading("write_error")
		}
	}

	resp := &batchResponse{
		Message: "telemetry processed",
		Statistics: Statistics{
			TotalReceived:    len(batch),
			Validated:        len(validated),
			ValidationErrors: len(itemErrs),
			Written:          written,
			WriteFailures:    len(writeFailures),
			HighRiskEvents:   highRisk,
		},
		ValidationErrors: itemErrs,
		WriteErrors:      writeFailures,
	}

	status := http.StatusOK
	if len(validated) == 0 {
		status = http.StatusBadRequest
	}
	log.Info().
		Int("total", resp.Statistics.TotalReceived).
		Int("validated", resp.Statistics.Validated).
		Int("written", resp.Statistics.Written).
		Int("high_risk", resp.Statistics.HighRiskEvents).
		Msg("batch processed")
	return resp, status
}

// BatchID fingerprints a raw body for log correlation at the front door.
func BatchID(body []byte) string { return keys.BatchID(body) }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		// nothing useful to do; the connection is gone
		_ = err
	}
}
