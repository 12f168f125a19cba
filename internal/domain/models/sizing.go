package models

import "time"

// RiskMetrics is the live risk snapshot supplied by the risk collaborator.
type RiskMetrics struct {
	PortfolioValue  float64
	CurrentDrawdown float64
	Volatility24h   float64
	SharpeRatio     float64
	DrawdownLimit   float64
	DailyPnL        float64
	RecentWinRate   float64
	AvgWinLossRatio float64
}

// SizingDecision records one sizing request with every intermediate value
// retained for auditability. Immutable once created.
type SizingDecision struct {
	Instrument       string
	SignalStrength   float64
	SignalConfidence float64
	Regime           Regime
	KellySize        float64
	VolTargetSize    float64
	RegimeSize       float64
	RiskAdjustedSize float64
	SignalSize       float64
	FinalSize        float64 // fraction of portfolio
	IntervalLow      float64
	IntervalHigh     float64
	Reasoning        string
	Timestamp        time.Time
}

// CorrelationSourceKind tags how a correlation risk score was obtained.
type CorrelationSourceKind string

const (
	CorrelationLive     CorrelationSourceKind = "live"
	CorrelationFallback CorrelationSourceKind = "fallback"
)

// CorrelationRisk is the correlation collaborator's answer. When the
// collaborator is unavailable the sizer substitutes a conservative
// exposure-based value and tags it as a fallback with the reason.
type CorrelationRisk struct {
	Score          float64 // 0..1
	ExposureLimit  float64 // recommended per-instrument cap, 0 means none
	Source         CorrelationSourceKind
	FallbackReason string
}
