package models

import "time"

// SignalType is the action an agent is voting for.
type SignalType string

const (
	SignalEntryLong  SignalType = "entry_long"
	SignalEntryShort SignalType = "entry_short"
	SignalExitLong   SignalType = "exit_long"
	SignalExitShort  SignalType = "exit_short"
	SignalHold       SignalType = "hold"
	SignalRiskAdjust SignalType = "risk_adjust"
)

// IsValidSignalType reports whether s is a supported signal type.
func IsValidSignalType(s SignalType) bool {
	switch s {
	case SignalEntryLong, SignalEntryShort, SignalExitLong, SignalExitShort, SignalHold, SignalRiskAdjust:
		return true
	default:
		return false
	}
}

// AgentSignal is one trading opinion submitted by a registered agent.
// Once submitted it is owned by the consensus engine and consumed by
// exactly one vote.
type AgentSignal struct {
	AgentID    string
	Type       SignalType
	Confidence float64 // 0..1
	Strength   float64 // unbounded magnitude
	Instrument string
	Timestamp  time.Time
	Rationale  string
	Extra      map[string]string // open-ended attributes, forward compatible
}

// AgentPerformance tracks one agent's historical quality. Fields are EMA
// updated in place after each outcome feedback event.
type AgentPerformance struct {
	AgentID            string
	AgentType          string
	Specialization     string
	BaseWeight         float64
	Weight             float64 // effective voting weight, recomputed from stats
	WinRate            float64
	AvgReturn          float64
	SharpeRatio        float64
	MaxDrawdown        float64
	TotalDecisions     int
	ConfidenceAccuracy float64
	RegimeWinRate      map[Regime]float64
	LastUpdated        time.Time
}
