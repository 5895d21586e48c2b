// Package notify delivers alert notifications to the alerts topic. Delivery
// is synchronous but best effort: a failed publish is logged and counted,
// never surfaced to the alert pipeline.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/akilada/openlews/internal/model"
	"github.com/akilada/openlews/internal/observability"
)

// message is what downstream consumers (SMS gateways, dashboards) receive.
// Subject is a one-line headline, Narrative the operator-facing text when
// the risk level warranted one.
type message struct {
	Subject       string          `json:"subject"`
	AlertID       string          `json:"alert_id"`
	RiskLevel     model.RiskLevel `json:"risk_level"`
	Status        string          `json:"status"`
	LocationLabel string          `json:"location_label,omitempty"`
	Narrative     string          `json:"narrative,omitempty"`
	Action        string          `json:"recommended_action,omitempty"`
	IssuedAt      time.Time       `json:"issued_at"`
	Alert         *model.Alert    `json:"alert"`
}

type Notifier struct {
	topic string
	prod  sarama.SyncProducer
	log   zerolog.Logger
	now   func() time.Time
}

func New(brokers []string, topic string, log zerolog.Logger) (*Notifier, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("notify: create sync producer: %w", err)
	}
	return newNotifier(prod, topic, log), nil
}

func newNotifier(prod sarama.SyncProducer, topic string, log zerolog.Logger) *Notifier {
	return &Notifier{
		topic: topic,
		prod:  prod,
		log:   log.With().Str("component", "notify").Logger(),
		now:   time.Now,
	}
}

// Notify publishes one alert notification. Errors are absorbed so that a
// broker outage cannot lose the alert itself, which is already persisted.
func (n *Notifier) Notify(_ context.Context, a *model.Alert, action string) {
	msg := message{
		Subject:   subject(a),
		AlertID:   a.AlertID,
		RiskLevel: a.RiskLevel,
		Status:    string(a.Status),
		Narrative: a.Narrative,
		Action:    a.RecommendedAction,
		IssuedAt:  n.now().UTC(),
		Alert:     a,
	}
	if a.Location != nil {
		msg.LocationLabel = a.Location.Label
	}

	body, err := json.Marshal(msg)
	if err != nil {
		observability.IncPublish("alert", "error")
		n.log.Error().Err(err).Str("alert_id", a.AlertID).Msg("marshal notification")
		return
	}

	_, _, err = n.prod.SendMessage(&sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(a.AlertID),
		Value: sarama.ByteEncoder(body),
	})
	if err != nil {
		observability.IncPublish("alert", "error")
		n.log.Error().Err(err).
			Str("alert_id", a.AlertID).
			Str("action", action).
			Msg("alert notification failed")
		return
	}
	observability.IncPublish("alert", "ok")
	n.log.Info().
		Str("alert_id", a.AlertID).
		Str("risk_level", string(a.RiskLevel)).
		Str("action", action).
		Msg("alert notification sent")
}

func subject(a *model.Alert) string {
	label := ""
	if a.Location != nil && a.Location.Label != "" {
		label = " - " + a.Location.Label
	}
	return fmt.Sprintf("[%s] Landslide alert%s (%d sensors)",
		a.RiskLevel, label, len(a.SensorsAffected))
}

func (n *Notifier) Close() error {
	if err := n.prod.Close(); err != nil {
		return fmt.Errorf("notify: close producer: %w", err)
	}
	return nil
}
