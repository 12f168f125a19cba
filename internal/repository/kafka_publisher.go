package repository

import (
	"context"
	"fmt"
	"time"

	"TradeCore/internal/domain/models"
	pkgkafka "TradeCore/pkg/kafka"
	applogger "TradeCore/pkg/logger"
)

// KafkaDecisionPublisher pushes sizing decisions and exit signals onto
// the decisions topic, keyed by instrument for per-instrument ordering.
type KafkaDecisionPublisher struct {
	producer *pkgkafka.Producer
	topic    string
	l        *applogger.Logger
}

func NewKafkaDecisionPublisher(producer *pkgkafka.Producer, topic string, l *applogger.Logger) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{producer: producer, topic: topic, l: l}
}

type decisionEnvelope struct {
	Kind      string      `json:"kind"` // "sizing" or "exit"
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func (p *KafkaDecisionPublisher) PublishSizing(ctx context.Context, d *models.SizingDecision) error {
	env := decisionEnvelope{Kind: "sizing", Payload: d, Timestamp: time.Now()}
	if err := p.producer.Publish(ctx, p.topic, []byte(d.Instrument), env); err != nil {
		p.l.Error("publish sizing decision failed",
			applogger.String("instrument", d.Instrument),
			applogger.Error(err),
		)
		return fmt.Errorf("publish sizing: %w", err)
	}
	return nil
}

func (p *KafkaDecisionPublisher) PublishExit(ctx context.Context, s *models.ExitSignal) error {
	env := decisionEnvelope{Kind: "exit", Payload: s, Timestamp: time.Now()}
	if err := p.producer.Publish(ctx, p.topic, []byte(s.Instrument), env); err != nil {
		p.l.Error("publish exit signal failed",
			applogger.String("instrument", s.Instrument),
			applogger.String("reason", s.Reason),
			applogger.Error(err),
		)
		return fmt.Errorf("publish exit: %w", err)
	}
	return nil
}

func (p *KafkaDecisionPublisher) Close() error {
	return p.producer.Close()
}
