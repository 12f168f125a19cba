package repository

import (
	"context"

	"TradeCore/internal/domain/models"
)

// MarketFeed streams per-tick market data for the configured instruments.
type MarketFeed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// DecisionPublisher pushes sizing decisions and exit instructions to the
// execution collaborator.
type DecisionPublisher interface {
	PublishSizing(ctx context.Context, d *models.SizingDecision) error
	PublishExit(ctx context.Context, s *models.ExitSignal) error
	Close() error
}

// DecisionStore archives votes, sizing decisions, and closed exit plans
// for the analytics warehouse.
type DecisionStore interface {
	StoreVote(ctx context.Context, r *models.ConsensusResult) error
	StoreSizing(ctx context.Context, d *models.SizingDecision) error
	StoreClosedPlan(ctx context.Context, p *models.PositionExitPlan) error
	Health(ctx context.Context) error
	Close() error
}

// Metrics is the observability sink for the decision core.
type Metrics interface {
	RecordTick(instrument string, price float64)
	RecordVote(instrument string, consensus bool)
	RecordRegime(instrument string, regime string)
	RecordAgentWeight(agentID string, weight float64)
	RecordPositionSize(instrument string, size float64)
	RecordExit(instrument, reason string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
