package consensus

import (
	"testing"

	"TradeCore/internal/domain/models"
	applogger "TradeCore/pkg/logger"
)

func newTestEngine() *Engine {
	return NewEngine(DefaultConfig(), applogger.Nop(), nil)
}

func signal(agent string, typ models.SignalType, conf, strength float64) models.AgentSignal {
	return models.AgentSignal{
		AgentID:    agent,
		Type:       typ,
		Confidence: conf,
		Strength:   strength,
		Instrument: "BTC-USD",
	}
}

func TestEmptyVoteYieldsNoConsensus(t *testing.T) {
	e := newTestEngine()
	res := e.ConductVote("BTC-USD", nil)
	if res.HasConsensus() {
		t.Fatalf("expected no consensus for empty buffer")
	}
	if res.Instrument != "BTC-USD" {
		t.Fatalf("unexpected instrument %q", res.Instrument)
	}
}

func TestVoteDrainsBuffer(t *testing.T) {
	e := newTestEngine()
	e.RegisterAgent("a1", "technical", "trend", 1.0)
	e.SubmitSignal(signal("a1", models.SignalEntryLong, 0.8, 1.0))

	first := e.ConductVote("BTC-USD", nil)
	if !first.HasConsensus() {
		t.Fatalf("expected consensus on first vote")
	}
	second := e.ConductVote("BTC-USD", nil)
	if second.HasConsensus() {
		t.Fatalf("expected second immediate vote to find an empty buffer")
	}
	if e.PendingCount("BTC-USD") != 0 {
		t.Fatalf("buffer should be empty after drain")
	}
}

func TestUnregisteredSubmissionDropped(t *testing.T) {
	e := newTestEngine()
	e.SubmitSignal(signal("ghost", models.SignalEntryLong, 0.9, 1.0))
	if e.PendingCount("BTC-USD") != 0 {
		t.Fatalf("unregistered agent signal must be dropped")
	}
}

func TestMalformedSignalDropped(t *testing.T) {
	e := newTestEngine()
	e.RegisterAgent("a1", "technical", "", 1.0)
	e.SubmitSignal(models.AgentSignal{AgentID: "a1", Type: "bogus", Instrument: "BTC-USD"})
	e.SubmitSignal(models.AgentSignal{AgentID: "a1", Type: models.SignalHold, Instrument: ""})
	if e.PendingCount("BTC-USD") != 0 {
		t.Fatalf("malformed signals must be dropped")
	}
}

func TestVoteDeterminism(t *testing.T) {
	e := newTestEngine()
	e.RegisterAgent("a1", "technical", "trend", 1.0)
	e.RegisterAgent("a2", "sentiment", "", 1.2)
	e.RegisterAgent("a3", "onchain", "", 0.8)

	run := func() *models.ConsensusResult {
		e.SubmitSignal(signal("a1", models.SignalEntryLong, 0.9, 1.5))
		e.SubmitSignal(signal("a2", models.SignalEntryLong, 0.7, 1.0))
		e.SubmitSignal(signal("a3", models.SignalEntryShort, 0.8, 2.0))
		return e.ConductVote("BTC-USD", nil)
	}

	first := run()
	second := run()
	if !first.HasConsensus() || !second.HasConsensus() {
		t.Fatalf("expected consensus in both runs")
	}
	if *first.Winning != *second.Winning {
		t.Fatalf("winner differs: %s vs %s", *first.Winning, *second.Winning)
	}
	if first.Confidence != second.Confidence {
		t.Fatalf("confidence differs: %v vs %v", first.Confidence, second.Confidence)
	}
	if first.Agreement != second.Agreement {
		t.Fatalf("agreement differs: %v vs %v", first.Agreement, second.Agreement)
	}
}

func TestAgreementAndParticipationBounded(t *testing.T) {
	e := newTestEngine()
	e.RegisterAgent("a1", "technical", "trend", 3.0)
	e.RegisterAgent("a2", "sentiment", "", 0.1)
	e.RegisterAgent("a3", "onchain", "", 1.0)
	e.SubmitSignal(signal("a1", models.SignalEntryLong, 1.0, 5.0))
	e.SubmitSignal(signal("a2", models.SignalEntryShort, 0.4, 0.5))

	res := e.ConductVote("BTC-USD", nil)
	if !res.HasConsensus() {
		t.Fatalf("expected consensus")
	}
	if res.Agreement < 0 || res.Agreement > 1 {
		t.Fatalf("agreement out of [0,1]: %v", res.Agreement)
	}
	if res.Participation < 0 || res.Participation > 1 {
		t.Fatalf("participation out of [0,1]: %v", res.Participation)
	}
	// 2 of 3 registered agents voted
	if res.Participation != 2.0/3.0 {
		t.Fatalf("expected participation 2/3, got %v", res.Participation)
	}
	if res.Confidence > 1 {
		t.Fatalf("confidence must be capped at 1, got %v", res.Confidence)
	}
}

func TestVolatileRegimeFiltersLowConfidence(t *testing.T) {
	e := newTestEngine()
	e.RegisterAgent("a1", "technical", "", 1.0)
	e.RegisterAgent("a2", "technical", "", 1.0)
	e.SubmitSignal(signal("a1", models.SignalEntryLong, 0.9, 1.0))
	e.SubmitSignal(signal("a2", models.SignalEntryShort, 0.5, 3.0))

	reg := &models.RegimeRecord{Instrument: "BTC-USD", Regime: models.RegimeVolatile, Confidence: 0.9}
	res := e.ConductVote("BTC-USD", reg)
	if !res.HasConsensus() {
		t.Fatalf("expected consensus")
	}
	if *res.Winning != models.SignalEntryLong {
		t.Fatalf("the sub-0.7 confidence short should have been filtered, winner %s", *res.Winning)
	}
	if res.TotalVotes != 1 {
		t.Fatalf("expected 1 surviving vote, got %d", res.TotalVotes)
	}
}

func TestAllFilteredYieldsNoConsensus(t *testing.T) {
	e := newTestEngine()
	e.RegisterAgent("a1", "technical", "", 1.0)
	e.SubmitSignal(signal("a1", models.SignalEntryLong, 0.3, 1.0))
	reg := &models.RegimeRecord{Instrument: "BTC-USD", Regime: models.RegimeVolatile}
	if res := e.ConductVote("BTC-USD", reg); res.HasConsensus() {
		t.Fatalf("expected no consensus when every signal is filtered")
	}
}

func TestSpecializationBoostBreaksTie(t *testing.T) {
	e := newTestEngine()
	e.RegisterAgent("trendy", "technical", "trend_following", 1.0)
	e.RegisterAgent("plain", "technical", "", 1.0)
	e.SubmitSignal(signal("plain", models.SignalEntryShort, 0.8, 1.0))
	e.SubmitSignal(signal("trendy", models.SignalEntryLong, 0.8, 1.0))

	reg := &models.RegimeRecord{Instrument: "BTC-USD", Regime: models.RegimeTrendingUp, Confidence: 0.8}
	res := e.ConductVote("BTC-USD", reg)
	if !res.HasConsensus() || *res.Winning != models.SignalEntryLong {
		t.Fatalf("trend specialist should outweigh the generalist in a trend")
	}
}

// Fifty cycles of a correct trend agent versus a consistently wrong
// counter-trend agent must leave the trend agent with the higher weight.
func TestFeedbackLearnsAgentWeights(t *testing.T) {
	e := newTestEngine()
	e.RegisterAgent("trend", "technical", "trend", 1.0)
	e.RegisterAgent("counter", "technical", "counter", 1.0)

	for i := 0; i < 50; i++ {
		e.SubmitSignal(signal("trend", models.SignalEntryLong, 0.9, 1.0))
		e.SubmitSignal(signal("counter", models.SignalEntryShort, 0.9, 1.0))
		res := e.ConductVote("BTC-USD", nil)
		if !res.HasConsensus() {
			t.Fatalf("cycle %d: expected consensus", i)
		}
		e.UpdatePerformanceFeedback(res, 100, models.RegimeTrendingUp)
	}

	trend, ok := e.Agent("trend")
	if !ok {
		t.Fatalf("trend agent missing")
	}
	counter, ok := e.Agent("counter")
	if !ok {
		t.Fatalf("counter agent missing")
	}
	if trend.Weight <= counter.Weight {
		t.Fatalf("trend weight %v should exceed counter weight %v", trend.Weight, counter.Weight)
	}
	if trend.WinRate <= counter.WinRate {
		t.Fatalf("trend win rate %v should exceed counter win rate %v", trend.WinRate, counter.WinRate)
	}
	if trend.RegimeWinRate[models.RegimeTrendingUp] <= 0.5 {
		t.Fatalf("trend per-regime win rate should rise above the prior, got %v",
			trend.RegimeWinRate[models.RegimeTrendingUp])
	}
	if trend.TotalDecisions != 50 || counter.TotalDecisions != 50 {
		t.Fatalf("expected 50 decisions each, got %d and %d", trend.TotalDecisions, counter.TotalDecisions)
	}
}

func TestStatsTrackConsensusRate(t *testing.T) {
	e := newTestEngine()
	e.RegisterAgent("a1", "technical", "", 1.0)
	e.SubmitSignal(signal("a1", models.SignalEntryLong, 0.8, 1.0))
	e.ConductVote("BTC-USD", nil)
	e.ConductVote("BTC-USD", nil) // empty

	s := e.Stats()
	if s.VotesTotal != 2 || s.ConsensusTotal != 1 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if s.ConsensusRate != 0.5 {
		t.Fatalf("expected consensus rate 0.5, got %v", s.ConsensusRate)
	}
}
