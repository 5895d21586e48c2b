package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"

	"github.com/akilada/openlews/internal/ingest"
	"github.com/akilada/openlews/internal/model"
)

func mockConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	return cfg
}

func TestPublishHighRisk_Envelope(t *testing.T) {
	prod := mocks.NewAsyncProducer(t, mockConfig())
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(value []byte) error {
		var env envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return err
		}
		if env.Source != "openlews.ingestor" {
			t.Errorf("source = %q", env.Source)
		}
		if env.DetailType != "HighRiskTelemetry" {
			t.Errorf("detail_type = %q", env.DetailType)
		}
		var ev ingest.HighRiskEvent
		if err := json.Unmarshal(env.Detail, &ev); err != nil {
			return err
		}
		if ev.SensorID != "LS-001" || ev.AlertReason != "Critical thresholds exceeded" {
			t.Errorf("detail = %+v", ev)
		}
		if ev.HazardLevel != "High" {
			t.Errorf("hazard_level = %q", ev.HazardLevel)
		}
		return nil
	})

	p := newPublisher(prod, "openlews-events", 8, zerolog.Nop())
	p.now = func() time.Time { return time.Unix(1735500000, 0) }

	r := model.Reading{
		SensorID:        "LS-001",
		Timestamp:       1735499000,
		Latitude:        7.29,
		Longitude:       80.45,
		MoisturePercent: 91,
		Zone:            &model.ZoneSnapshot{ZoneID: "NBRO-001", HazardLevel: model.HazardHigh},
	}
	if err := p.PublishHighRisk(context.Background(), ingest.NewHighRiskEvent(&r)); err != nil {
		t.Fatalf("PublishHighRisk: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPublishHighRisk_FullQueueDrops(t *testing.T) {
	// no pump running: the queue stays full after the first enqueue
	p := &Publisher{
		topic:  "openlews-events",
		events: make(chan ingest.HighRiskEvent, 1),
		log:    zerolog.Nop(),
		now:    time.Now,
	}

	ev := ingest.HighRiskEvent{SensorID: "LS-002", AlertReason: "Critical thresholds exceeded"}
	for i := 0; i < 3; i++ {
		if err := p.PublishHighRisk(context.Background(), ev); err != nil {
			t.Fatalf("PublishHighRisk must never error, got %v", err)
		}
	}
	if len(p.events) != 1 {
		t.Fatalf("queued = %d, want 1 (overflow dropped)", len(p.events))
	}
}
