package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	domsvc "TradeCore/internal/domain/service"
	"TradeCore/internal/engine/consensus"
	"TradeCore/internal/engine/exits"
	"TradeCore/internal/engine/regime"
	"TradeCore/internal/engine/sizing"
	applogger "TradeCore/pkg/logger"
)

const closeLockTTL = 5 * time.Second

// Locker is the distributed-lock subset of the cache service used to
// serialize forced closes across instances.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// DecisionService orchestrates the decision core: ticks drive the
// regime classifier and exit plans, votes drive sizing and plan
// creation, settled outcomes feed agent performance back in.
type DecisionService struct {
	classifier *regime.Classifier
	engine     *consensus.Engine
	sizer      *sizing.Sizer
	planner    *exits.Planner
	risk       domsvc.RiskSource
	publisher  domrepo.DecisionPublisher
	store      domrepo.DecisionStore
	metrics    domrepo.Metrics
	locker     Locker
	l          *applogger.Logger

	mu        sync.Mutex
	lastVote  map[string]*models.ConsensusResult
	lastPrice map[string]float64
	positions map[string]float64 // signed exposure per instrument
}

func NewDecisionService(
	classifier *regime.Classifier,
	engine *consensus.Engine,
	sizer *sizing.Sizer,
	planner *exits.Planner,
	risk domsvc.RiskSource,
	publisher domrepo.DecisionPublisher,
	store domrepo.DecisionStore,
	metrics domrepo.Metrics,
	locker Locker,
	l *applogger.Logger,
) *DecisionService {
	return &DecisionService{
		classifier: classifier,
		engine:     engine,
		sizer:      sizer,
		planner:    planner,
		risk:       risk,
		publisher:  publisher,
		store:      store,
		metrics:    metrics,
		locker:     locker,
		l:          l,
		lastVote:   make(map[string]*models.ConsensusResult),
		lastPrice:  make(map[string]float64),
		positions:  make(map[string]float64),
	}
}

// Process consumes one market tick: classify the regime, advance the
// instrument's exit plan, publish whatever exits fired. Implements the
// tick pipeline's downstream interface.
func (s *DecisionService) Process(ctx context.Context, t *models.Tick) error {
	if s.metrics != nil {
		s.metrics.RecordTick(t.Instrument, t.Price)
	}

	s.mu.Lock()
	s.lastPrice[t.Instrument] = t.Price
	s.mu.Unlock()

	s.classifier.Observe(t)

	for _, sig := range s.planner.OnPriceUpdate(t.Instrument, t.Price) {
		if err := s.publisher.PublishExit(ctx, &sig); err != nil {
			s.l.Error("exit publish failed",
				applogger.String("instrument", sig.Instrument),
				applogger.String("reason", sig.Reason),
				applogger.Error(err),
			)
			if s.metrics != nil {
				s.metrics.RecordError("publish_exit")
			}
		}
	}
	return nil
}

// SubmitSignal records an agent's signal for the next vote.
func (s *DecisionService) SubmitSignal(sig models.AgentSignal) {
	s.engine.SubmitSignal(sig)
}

// RegisterAgent registers an agent with the consensus engine.
func (s *DecisionService) RegisterAgent(id, agentType, specialization string, baseWeight float64) {
	s.engine.RegisterAgent(id, agentType, specialization, baseWeight)
}

// RunVote drains the instrument's pending signals, conducts the vote,
// and on an entry consensus sizes the position and opens an exit plan.
func (s *DecisionService) RunVote(ctx context.Context, instrument string) (*models.ConsensusResult, *models.SizingDecision, error) {
	reg, _ := s.classifier.Latest(instrument)
	res := s.engine.ConductVote(instrument, reg)

	s.mu.Lock()
	s.lastVote[instrument] = res
	price := s.lastPrice[instrument]
	open := make(map[string]float64, len(s.positions))
	for k, v := range s.positions {
		open[k] = v
	}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.StoreVote(ctx, res); err != nil {
			s.l.Warn("vote archive failed", applogger.String("instrument", instrument), applogger.Error(err))
		}
	}
	if !res.HasConsensus() {
		return res, nil, nil
	}

	switch *res.Winning {
	case models.SignalEntryLong, models.SignalEntryShort:
		dec, err := s.sizeAndPlan(ctx, instrument, res, reg, price, open)
		return res, dec, err
	case models.SignalExitLong, models.SignalExitShort:
		if _, err := s.ForceClose(ctx, instrument, 0); err != nil {
			s.l.Warn("consensus exit close failed",
				applogger.String("instrument", instrument),
				applogger.Error(err),
			)
		}
		return res, nil, nil
	default:
		// hold and risk_adjust produce no order flow
		return res, nil, nil
	}
}

func (s *DecisionService) sizeAndPlan(ctx context.Context, instrument string, res *models.ConsensusResult, reg *models.RegimeRecord, price float64, open map[string]float64) (*models.SizingDecision, error) {
	riskM, err := s.risk.Metrics(ctx, instrument)
	if err != nil {
		// degrade to a neutral snapshot; the sizer is conservative on zeros
		s.l.Warn("risk metrics unavailable", applogger.String("instrument", instrument), applogger.Error(err))
		riskM = models.RiskMetrics{}
	}
	if riskM.Volatility24h > 0 {
		s.sizer.ObserveVolatility(riskM.Volatility24h)
	}

	dec := s.sizer.ComputeSize(ctx, sizing.Request{
		Instrument:     instrument,
		SignalStrength: winningStrength(res),
		Confidence:     res.Confidence,
		Regime:         reg,
		Risk:           riskM,
		OpenPositions:  open,
	})

	if err := s.publisher.PublishSizing(ctx, dec); err != nil {
		return dec, fmt.Errorf("publish sizing: %w", err)
	}
	if s.store != nil {
		if err := s.store.StoreSizing(ctx, dec); err != nil {
			s.l.Warn("sizing archive failed", applogger.String("instrument", instrument), applogger.Error(err))
		}
	}

	if price <= 0 {
		s.l.Warn("no market price yet, skipping exit plan", applogger.String("instrument", instrument))
		return dec, nil
	}

	side := models.SideLong
	exposure := dec.FinalSize
	if *res.Winning == models.SignalEntryShort {
		side = models.SideShort
		exposure = -dec.FinalSize
	}
	if _, err := s.planner.CreatePlan(instrument, side, price, dec.FinalSize, reg); err != nil {
		s.l.Warn("exit plan not created", applogger.String("instrument", instrument), applogger.Error(err))
		return dec, nil
	}

	s.mu.Lock()
	s.positions[instrument] = exposure
	s.mu.Unlock()
	return dec, nil
}

// winningStrength averages the strength of the voters behind the winner.
func winningStrength(res *models.ConsensusResult) float64 {
	var sum float64
	var n int
	for _, v := range res.Voters {
		if v.Type == *res.Winning {
			sum += v.Strength
			n++
		}
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

// ExecuteFill books a confirmed fill against the instrument's exit plan
// and archives the plan once it is fully closed.
func (s *DecisionService) ExecuteFill(ctx context.Context, instrument string, sig models.ExitSignal) error {
	if err := s.planner.ExecuteExit(instrument, sig); err != nil {
		return err
	}
	s.reconcile(ctx, instrument)
	return nil
}

// ForceClose exits the entire remaining position at the last seen price.
// A distributed lock serializes concurrent closes for the instrument.
func (s *DecisionService) ForceClose(ctx context.Context, instrument string, price float64) (*models.ExitSignal, error) {
	if price <= 0 {
		s.mu.Lock()
		price = s.lastPrice[instrument]
		s.mu.Unlock()
	}
	if price <= 0 {
		return nil, fmt.Errorf("no market price for %s", instrument)
	}

	if s.locker != nil {
		key := "close:" + instrument
		ok, err := s.locker.TryLock(ctx, key, closeLockTTL)
		if err != nil {
			s.l.Warn("close lock unavailable", applogger.String("instrument", instrument), applogger.Error(err))
		} else if !ok {
			return nil, fmt.Errorf("close already in progress for %s", instrument)
		} else {
			defer func() { _ = s.locker.Unlock(ctx, key) }()
		}
	}

	sig, err := s.planner.ClosePosition(instrument, price)
	if err != nil {
		return nil, err
	}
	if err := s.publisher.PublishExit(ctx, sig); err != nil {
		s.l.Error("forced close publish failed", applogger.String("instrument", instrument), applogger.Error(err))
	}
	s.reconcile(ctx, instrument)
	return sig, nil
}

// reconcile syncs tracked exposure with the plan and archives closed plans.
func (s *DecisionService) reconcile(ctx context.Context, instrument string) {
	plan, ok := s.planner.Plan(instrument)
	if !ok {
		return
	}

	exposure := plan.RemainingSize()
	if plan.Side == models.SideShort {
		exposure = -exposure
	}
	s.mu.Lock()
	if exposure == 0 {
		delete(s.positions, instrument)
	} else {
		s.positions[instrument] = exposure
	}
	s.mu.Unlock()

	if s.store != nil && !plan.Active && plan.RemainingSize() == 0 {
		if err := s.store.StoreClosedPlan(ctx, plan); err != nil {
			s.l.Warn("closed plan archive failed", applogger.String("instrument", instrument), applogger.Error(err))
		}
	}
}

// ApplyOutcome feeds a settled result for the instrument's last vote
// back into agent performance and the Kelly window.
func (s *DecisionService) ApplyOutcome(instrument string, outcome float64, reg models.Regime) error {
	s.mu.Lock()
	res := s.lastVote[instrument]
	s.mu.Unlock()
	if res == nil || !res.HasConsensus() {
		return fmt.Errorf("no consensus on record for %s", instrument)
	}
	s.engine.UpdatePerformanceFeedback(res, outcome, reg)
	s.sizer.RecordTradeOutcome(outcome)
	return nil
}

// OpenPositions returns a copy of the tracked signed exposures.
func (s *DecisionService) OpenPositions() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}
