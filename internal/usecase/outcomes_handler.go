package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	pkgkafka "TradeCore/pkg/kafka"
)

// OutcomesHandler consumes settle feedback from the execution
// collaborator: realized outcomes for past votes and fill confirmations
// for emitted exit signals.
type OutcomesHandler struct {
	topic   string
	svc     *DecisionService
	metrics domrepo.Metrics
}

func NewOutcomesHandler(topic string, svc *DecisionService, metrics domrepo.Metrics) *OutcomesHandler {
	return &OutcomesHandler{topic: topic, svc: svc, metrics: metrics}
}

func (h *OutcomesHandler) Topic() string { return h.topic }

// incoming message schema:
//
//	{"kind":"outcome","instrument":"BTC-USD","outcome":0.012,"regime":"trending_up"}
//	{"kind":"fill","instrument":"BTC-USD","exit_size":0.25,"exit_price":101.2,"reason":"profit_target","t":1709290000000}
type outcomeMessage struct {
	Kind       string  `json:"kind"`
	Instrument string  `json:"instrument"`
	Outcome    float64 `json:"outcome"`
	Regime     string  `json:"regime"`
	ExitSize   float64 `json:"exit_size"`
	ExitPrice  float64 `json:"exit_price"`
	Reason     string  `json:"reason"`
	T          int64   `json:"t"`
}

func (h *OutcomesHandler) Handle(ctx context.Context, b []byte) error {
	start := time.Now()
	var m outcomeMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("outcomes_unmarshal")
		return err
	}
	if m.Instrument == "" {
		h.metrics.RecordError("outcomes_malformed")
		return fmt.Errorf("outcome message missing instrument")
	}

	switch m.Kind {
	case "outcome":
		if err := h.svc.ApplyOutcome(m.Instrument, m.Outcome, models.Regime(m.Regime)); err != nil {
			h.metrics.RecordError("outcomes_apply")
			return err
		}
	case "fill":
		ts := time.Now()
		if m.T > 0 {
			sec := m.T
			if sec > 1e11 { // ms
				sec /= 1000
			}
			ts = time.Unix(sec, 0)
		}
		err := h.svc.ExecuteFill(ctx, m.Instrument, models.ExitSignal{
			Instrument: m.Instrument,
			ExitSize:   m.ExitSize,
			ExitPrice:  m.ExitPrice,
			Reason:     m.Reason,
			Timestamp:  ts,
		})
		if err != nil {
			h.metrics.RecordError("outcomes_fill")
			return err
		}
	default:
		h.metrics.RecordError("outcomes_unknown_kind")
		return fmt.Errorf("unknown outcome kind %q", m.Kind)
	}

	h.metrics.RecordLatency("outcome_handle", time.Since(start).Seconds())
	return nil
}

var _ pkgkafka.MessageHandler = (*OutcomesHandler)(nil)
