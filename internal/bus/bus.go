// Package bus publishes high-risk telemetry events to Kafka. Publishing is
// decoupled from the ingest request path through a bounded queue: a full
// queue drops the event rather than blocking a batch write.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/akilada/openlews/internal/ingest"
	"github.com/akilada/openlews/internal/observability"
)

const (
	envelopeSource     = "openlews.ingestor"
	detailTypeHighRisk = "HighRiskTelemetry"
)

// envelope is the wire frame around every event on the topic.
type envelope struct {
	Source     string          `json:"source"`
	DetailType string          `json:"detail_type"`
	Time       time.Time       `json:"time"`
	Detail     json.RawMessage `json:"detail"`
}

type Publisher struct {
	topic   string
	events  chan ingest.HighRiskEvent
	prod    sarama.AsyncProducer
	log     zerolog.Logger
	stopped chan struct{}
	now     func() time.Time
}

func NewPublisher(brokers []string, topic string, queueSize int, log zerolog.Logger) (*Publisher, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("bus: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, log), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, log zerolog.Logger) *Publisher {
	p := &Publisher{
		topic:   topic,
		events:  make(chan ingest.HighRiskEvent, queueSize),
		prod:    prod,
		log:     log.With().Str("component", "bus").Logger(),
		stopped: make(chan struct{}),
		now:     time.Now,
	}

	go p.pump()
	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncPublish("event", "error")
				p.log.Error().Err(err.Err).Str("topic", p.topic).Msg("event publish failed")
			}
		}
	}()

	return p
}

func (p *Publisher) pump() {
	defer close(p.stopped)
	for ev := range p.events {
		detail, err := json.Marshal(ev)
		if err != nil {
			observability.IncPublish("event", "error")
			p.log.Error().Err(err).Str("sensor_id", ev.SensorID).Msg("marshal high-risk event")
			continue
		}
		body, err := json.Marshal(envelope{
			Source:     envelopeSource,
			DetailType: detailTypeHighRisk,
			Time:       p.now().UTC(),
			Detail:     detail,
		})
		if err != nil {
			observability.IncPublish("event", "error")
			continue
		}
		p.prod.Input() <- &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.SensorID),
			Value: sarama.ByteEncoder(body),
		}
		observability.IncPublish("event", "ok")
	}
}

// PublishHighRisk enqueues an event for async delivery. A full queue drops
// the event: the reading is still stored and the next detection run will
// see it regardless.
func (p *Publisher) PublishHighRisk(_ context.Context, ev ingest.HighRiskEvent) error {
	select {
	case p.events <- ev:
	default:
		observability.IncPublish("event", "dropped")
		p.log.Warn().Str("sensor_id", ev.SensorID).Msg("event queue full, dropping")
	}
	return nil
}

// Close drains the queue and shuts the producer down.
func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("bus: close producer: %w", err)
	}
	return nil
}

var _ ingest.EventPublisher = (*Publisher)(nil)
