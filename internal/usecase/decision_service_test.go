package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/engine/consensus"
	"TradeCore/internal/engine/exits"
	"TradeCore/internal/engine/regime"
	"TradeCore/internal/engine/sizing"
	applogger "TradeCore/pkg/logger"
)

type fakePublisher struct {
	mu      sync.Mutex
	sizings []*models.SizingDecision
	exits   []*models.ExitSignal
}

func (f *fakePublisher) PublishSizing(_ context.Context, d *models.SizingDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizings = append(f.sizings, d)
	return nil
}

func (f *fakePublisher) PublishExit(_ context.Context, s *models.ExitSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exits = append(f.exits, s)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeStore struct {
	mu     sync.Mutex
	votes  int
	sizes  int
	closed int
}

func (f *fakeStore) StoreVote(context.Context, *models.ConsensusResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes++
	return nil
}

func (f *fakeStore) StoreSizing(context.Context, *models.SizingDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sizes++
	return nil
}

func (f *fakeStore) StoreClosedPlan(context.Context, *models.PositionExitPlan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStore) Health(context.Context) error { return nil }
func (f *fakeStore) Close() error                 { return nil }

type fakeRisk struct {
	metrics models.RiskMetrics
}

func (f *fakeRisk) Metrics(context.Context, string) (models.RiskMetrics, error) {
	return f.metrics, nil
}

func (f *fakeRisk) CorrelationRisk(context.Context, string, map[string]float64) models.CorrelationRisk {
	return models.CorrelationRisk{Source: models.CorrelationFallback, FallbackReason: "test"}
}

type fakeLocker struct {
	allow bool
}

func (f *fakeLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return f.allow, nil
}

func (f *fakeLocker) Unlock(context.Context, string) error { return nil }

type testHarness struct {
	svc   *DecisionService
	pub   *fakePublisher
	store *fakeStore
	lock  *fakeLocker
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	l := applogger.Nop()
	risk := &fakeRisk{metrics: models.RiskMetrics{
		PortfolioValue:  100000,
		Volatility24h:   0.2,
		RecentWinRate:   0.55,
		AvgWinLossRatio: 1.4,
	}}
	pub := &fakePublisher{}
	store := &fakeStore{}
	lock := &fakeLocker{allow: true}

	svc := NewDecisionService(
		regime.NewClassifier(regime.DefaultConfig(), l, nil),
		consensus.NewEngine(consensus.DefaultConfig(), l, nil),
		sizing.NewSizer(sizing.DefaultConfig(), risk, l, nil),
		exits.NewPlanner(exits.DefaultConfig(), l, nil),
		risk,
		pub,
		store,
		nil,
		lock,
		l,
	)
	return &testHarness{svc: svc, pub: pub, store: store, lock: lock}
}

func marketTick(instrument string, price float64) *models.Tick {
	return &models.Tick{
		Instrument: instrument,
		Price:      price,
		High:       price,
		Low:        price,
		Volume:     1,
		Timestamp:  time.Now().Unix(),
	}
}

func submitEntry(h *testHarness, agent, instrument string) {
	h.svc.SubmitSignal(models.AgentSignal{
		AgentID:    agent,
		Type:       models.SignalEntryLong,
		Confidence: 0.8,
		Strength:   1.0,
		Instrument: instrument,
		Timestamp:  time.Now(),
	})
}

func TestRunVoteWithoutSignals(t *testing.T) {
	h := newHarness(t)
	res, dec, err := h.svc.RunVote(context.Background(), "BTC-USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasConsensus() {
		t.Fatalf("empty buffer must not reach consensus")
	}
	if dec != nil {
		t.Fatalf("no consensus means no sizing decision")
	}
	if h.store.votes != 1 {
		t.Fatalf("vote must be archived even without consensus, got %d", h.store.votes)
	}
}

func TestEntryVoteSizesAndOpensPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.Process(ctx, marketTick("BTC-USD", 100)); err != nil {
		t.Fatalf("process tick: %v", err)
	}

	h.svc.RegisterAgent("a1", "technical", "trend", 1.0)
	h.svc.RegisterAgent("a2", "sentiment", "news", 1.0)
	submitEntry(h, "a1", "BTC-USD")
	submitEntry(h, "a2", "BTC-USD")

	res, dec, err := h.svc.RunVote(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if !res.HasConsensus() || *res.Winning != models.SignalEntryLong {
		t.Fatalf("expected entry_long consensus, got %+v", res)
	}
	if dec == nil || dec.FinalSize <= 0 {
		t.Fatalf("expected a positive sizing decision, got %+v", dec)
	}
	if len(h.pub.sizings) != 1 {
		t.Fatalf("sizing decision must be published, got %d", len(h.pub.sizings))
	}
	if h.store.sizes != 1 {
		t.Fatalf("sizing decision must be archived")
	}

	open := h.svc.OpenPositions()
	if open["BTC-USD"] != dec.FinalSize {
		t.Fatalf("tracked exposure = %v, want %v", open["BTC-USD"], dec.FinalSize)
	}
}

func TestEntryVoteWithoutPriceSkipsPlan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.svc.RegisterAgent("a1", "technical", "trend", 1.0)
	submitEntry(h, "a1", "BTC-USD")

	_, dec, err := h.svc.RunVote(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if dec == nil {
		t.Fatalf("sizing still happens without a price")
	}
	if len(h.svc.OpenPositions()) != 0 {
		t.Fatalf("no plan means no tracked exposure")
	}
}

func TestForceCloseClearsExposure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.Process(ctx, marketTick("BTC-USD", 100)); err != nil {
		t.Fatalf("process tick: %v", err)
	}
	h.svc.RegisterAgent("a1", "technical", "trend", 1.0)
	submitEntry(h, "a1", "BTC-USD")
	if _, _, err := h.svc.RunVote(ctx, "BTC-USD"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	sig, err := h.svc.ForceClose(ctx, "BTC-USD", 0)
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	if sig.Reason != exits.ReasonForcedClose {
		t.Fatalf("reason = %q", sig.Reason)
	}
	if len(h.svc.OpenPositions()) != 0 {
		t.Fatalf("exposure must be cleared after full close")
	}
	if h.store.closed != 1 {
		t.Fatalf("closed plan must be archived, got %d", h.store.closed)
	}
	if len(h.pub.exits) != 1 {
		t.Fatalf("forced close must be published, got %d", len(h.pub.exits))
	}
}

func TestForceCloseBlockedByLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.Process(ctx, marketTick("BTC-USD", 100)); err != nil {
		t.Fatalf("process tick: %v", err)
	}
	h.svc.RegisterAgent("a1", "technical", "trend", 1.0)
	submitEntry(h, "a1", "BTC-USD")
	if _, _, err := h.svc.RunVote(ctx, "BTC-USD"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	h.lock.allow = false
	if _, err := h.svc.ForceClose(ctx, "BTC-USD", 0); err == nil {
		t.Fatalf("expected lock contention error")
	}
}

func TestForceCloseWithoutPrice(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.ForceClose(context.Background(), "BTC-USD", 0); err == nil {
		t.Fatalf("expected error without a market price")
	}
}

func TestExecuteFillUpdatesExposure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.Process(ctx, marketTick("BTC-USD", 100)); err != nil {
		t.Fatalf("process tick: %v", err)
	}
	h.svc.RegisterAgent("a1", "technical", "trend", 1.0)
	submitEntry(h, "a1", "BTC-USD")
	_, dec, err := h.svc.RunVote(ctx, "BTC-USD")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}

	fill := models.ExitSignal{
		Instrument: "BTC-USD",
		ExitSize:   dec.FinalSize / 4,
		ExitPrice:  100.5,
		Reason:     exits.ReasonProfitTarget,
		Confidence: 0.9,
		Timestamp:  time.Now(),
	}
	if err := h.svc.ExecuteFill(ctx, "BTC-USD", fill); err != nil {
		t.Fatalf("execute fill: %v", err)
	}

	open := h.svc.OpenPositions()
	want := dec.FinalSize - dec.FinalSize/4
	if diff := open["BTC-USD"] - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("exposure = %v, want %v", open["BTC-USD"], want)
	}
}

func TestApplyOutcomeNeedsConsensusOnRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.ApplyOutcome("BTC-USD", 0.5, models.RegimeRanging); err == nil {
		t.Fatalf("expected error before any vote")
	}

	if err := h.svc.Process(ctx, marketTick("BTC-USD", 100)); err != nil {
		t.Fatalf("process tick: %v", err)
	}
	h.svc.RegisterAgent("a1", "technical", "trend", 1.0)
	submitEntry(h, "a1", "BTC-USD")
	if _, _, err := h.svc.RunVote(ctx, "BTC-USD"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	if err := h.svc.ApplyOutcome("BTC-USD", 0.5, models.RegimeRanging); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}
}

func TestTickDrivenExitsArePublished(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.Process(ctx, marketTick("BTC-USD", 100)); err != nil {
		t.Fatalf("process tick: %v", err)
	}
	h.svc.RegisterAgent("a1", "technical", "trend", 1.0)
	submitEntry(h, "a1", "BTC-USD")
	if _, _, err := h.svc.RunVote(ctx, "BTC-USD"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	// Cross the first profit target; the resulting exit goes to the bus.
	if err := h.svc.Process(ctx, marketTick("BTC-USD", 100.6)); err != nil {
		t.Fatalf("process tick: %v", err)
	}
	if len(h.pub.exits) != 1 {
		t.Fatalf("expected 1 published exit, got %d", len(h.pub.exits))
	}
	if h.pub.exits[0].Reason != exits.ReasonProfitTarget {
		t.Fatalf("reason = %q", h.pub.exits[0].Reason)
	}
}
