package models

import "time"

// ConsensusResult is the outcome of one vote. Immutable once created.
// Winning is nil when no consensus was reached (empty buffer or all
// signals filtered out).
type ConsensusResult struct {
	Instrument    string
	Winning       *SignalType
	Confidence    float64 // 0..1
	Agreement     float64 // 0..1, winning group share of total participation
	Participation float64 // voting agents / registered agents
	TotalVotes    int
	Voters        []AgentSignal
	Reasoning     string
	Timestamp     time.Time
}

// HasConsensus reports whether the vote produced a winner.
func (r *ConsensusResult) HasConsensus() bool { return r.Winning != nil }

// OutcomeFeedback carries a settled trade result back to the consensus
// engine so agent performance and weights can be updated.
type OutcomeFeedback struct {
	Result          *ConsensusResult
	RealizedOutcome float64
	Regime          Regime
}
