package models

import "time"

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ExitLevel is one rung of a partial-exit ladder. Owned by exactly one
// PositionExitPlan.
type ExitLevel struct {
	Fraction         float64 // 0..1 of the original size
	ProfitTarget     float64 // fractional gain from entry, e.g. 0.01 = +1%
	TrailingDistance float64 // 0 disables level trailing
	TimeLimit        time.Duration
	Executed         bool
	ExecutionPrice   float64
	ExecutionTime    time.Time
}

// PositionExitPlan is the per-instrument exit state machine. Exactly one
// active plan exists per instrument; the instrument is the identity key.
type PositionExitPlan struct {
	Instrument        string
	EntryPrice        float64
	CurrentPrice      float64
	OriginalSize      float64
	Side              Side
	Levels            []ExitLevel
	TrailingStop      float64 // current trailing stop price, 0 until armed
	TrailingDistance  float64 // distance as a fraction of entry price
	EmergencyStop     float64
	TotalExited       float64
	RealizedPnL       float64
	Active            bool
	CreatedAt         time.Time
	LastUpdatedAt     time.Time
}

// RemainingSize returns the unexited portion of the position.
func (p *PositionExitPlan) RemainingSize() float64 {
	rem := p.OriginalSize - p.TotalExited
	if rem < 0 {
		return 0
	}
	return rem
}

// ExitSignal is an instruction to the execution collaborator. A value,
// not an owned entity.
type ExitSignal struct {
	Instrument string
	ExitSize   float64
	ExitPrice  float64
	Reason     string // "profit_target", "trailing_stop", "emergency_stop", "time_limit", "forced_close"
	Confidence float64
	Timestamp  time.Time
}

// InstrumentExitStats aggregates closed plans per instrument.
type InstrumentExitStats struct {
	Instrument     string
	ClosedPlans    int
	Wins           int
	WinRate        float64
	TotalPnL       float64
	BestTrade      float64
	WorstTrade     float64
	AvgHoldingTime time.Duration // EMA over closed plans
}
