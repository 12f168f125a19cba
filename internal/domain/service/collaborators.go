package service

import (
	"context"

	"TradeCore/internal/domain/models"
)

// RiskSource supplies live portfolio risk metrics.
type RiskSource interface {
	Metrics(ctx context.Context, instrument string) (models.RiskMetrics, error)
}

// CorrelationSource supplies a correlation-risk score for an instrument
// against the current portfolio. Implementations never return an error to
// the sizer's hot path; unavailability is expressed as a Fallback-tagged
// CorrelationRisk value.
type CorrelationSource interface {
	CorrelationRisk(ctx context.Context, instrument string, openPositions map[string]float64) models.CorrelationRisk
}
