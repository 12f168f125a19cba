package exits

import (
	"fmt"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	applogger "TradeCore/pkg/logger"
)

const (
	defaultEmergencyStopPct = 0.05
	defaultTrailingDistance = 0.015
	trailingActivationPct   = 0.01
	closedThreshold         = 0.99
	holdingTimeAlpha        = 0.2
	sizeEpsilon             = 1e-9
)

// Exit reasons carried on ExitSignal.Reason.
const (
	ReasonProfitTarget  = "profit_target"
	ReasonTrailingStop  = "trailing_stop"
	ReasonEmergencyStop = "emergency_stop"
	ReasonTimeLimit     = "time_limit"
	ReasonForcedClose   = "forced_close"
)

type Config struct {
	EmergencyStopPct float64       // loss fraction from entry for the hard stop
	TrailingDistance float64       // trailing stop distance as a fraction of price
	LevelTimeLimit   time.Duration // per-level deadline, 0 disables
	MaxHoldingTime   time.Duration // whole-position deadline, 0 disables
}

func DefaultConfig() Config {
	return Config{
		EmergencyStopPct: defaultEmergencyStopPct,
		TrailingDistance: defaultTrailingDistance,
	}
}

// planState wraps a plan with its emission bookkeeping. Signals emitted
// but not yet confirmed by ExecuteExit are tracked so a rung fires once
// and sizes never overshoot the remaining position.
type planState struct {
	mu            sync.Mutex
	plan          *models.PositionExitPlan
	emitted       []bool
	pending       float64
	trailingFired bool
	timeFired     bool
	archived      bool
}

// Planner manages one exit plan per instrument: a regime-adapted
// partial-exit ladder, a trailing stop that arms in profit and only
// tightens, a hard emergency stop, and time limits. It emits ExitSignal
// values; the execution collaborator confirms fills via ExecuteExit.
type Planner struct {
	cfg     Config
	l       *applogger.Logger
	metrics domrepo.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	plans map[string]*planState

	statsMu sync.Mutex
	stats   map[string]*models.InstrumentExitStats
}

func NewPlanner(cfg Config, l *applogger.Logger, metrics domrepo.Metrics) *Planner {
	if cfg.EmergencyStopPct <= 0 {
		cfg.EmergencyStopPct = defaultEmergencyStopPct
	}
	if cfg.TrailingDistance <= 0 {
		cfg.TrailingDistance = defaultTrailingDistance
	}
	return &Planner{
		cfg:     cfg,
		l:       l,
		metrics: metrics,
		now:     time.Now,
		plans:   make(map[string]*planState),
		stats:   make(map[string]*models.InstrumentExitStats),
	}
}

// CreatePlan opens a new exit plan for an instrument. An existing active
// plan is a caller error; a closed plan is replaced.
func (p *Planner) CreatePlan(instrument string, side models.Side, entryPrice, size float64, reg *models.RegimeRecord) (*models.PositionExitPlan, error) {
	if instrument == "" {
		return nil, fmt.Errorf("exits: empty instrument")
	}
	if side != models.SideLong && side != models.SideShort {
		return nil, fmt.Errorf("exits: invalid side %q", side)
	}
	if entryPrice <= 0 || size <= 0 {
		return nil, fmt.Errorf("exits: invalid entry price %v or size %v", entryPrice, size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.plans[instrument]; ok {
		st.mu.Lock()
		active := st.plan.Active
		st.mu.Unlock()
		if active {
			return nil, fmt.Errorf("exits: active plan already exists for %s", instrument)
		}
	}

	now := p.now()
	levels := buildLadder(size, reg, p.cfg.LevelTimeLimit)
	plan := &models.PositionExitPlan{
		Instrument:       instrument,
		EntryPrice:       entryPrice,
		CurrentPrice:     entryPrice,
		OriginalSize:     size,
		Side:             side,
		Levels:           levels,
		TrailingDistance: p.cfg.TrailingDistance,
		EmergencyStop:    emergencyStopPrice(entryPrice, side, reg, p.cfg.EmergencyStopPct),
		Active:           true,
		CreatedAt:        now,
		LastUpdatedAt:    now,
	}
	p.plans[instrument] = &planState{
		plan:    plan,
		emitted: make([]bool, len(levels)),
	}

	p.l.Info("exit plan created",
		applogger.String("instrument", instrument),
		applogger.String("side", string(side)),
		applogger.Float64("entry", entryPrice),
		applogger.Float64("size", size),
	)
	return copyPlan(plan), nil
}

// OnPriceUpdate advances the plan's state machine for one price sample
// and returns any exit signals it produced. Checks run in a fixed
// order: ladder levels, then the trailing stop, then the emergency
// stop, then time limits. An inactive plan emits nothing.
func (p *Planner) OnPriceUpdate(instrument string, price float64) []models.ExitSignal {
	if price <= 0 {
		return nil
	}
	st := p.state(instrument)
	if st == nil {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	plan := st.plan
	if !plan.Active {
		return nil
	}

	now := p.now()
	plan.CurrentPrice = price
	plan.LastUpdatedAt = now
	pf := profitFraction(plan, price)

	var signals []models.ExitSignal
	emit := func(size float64, reason string, confidence float64) {
		avail := plan.RemainingSize() - st.pending
		if size > avail {
			size = avail
		}
		if size <= sizeEpsilon {
			return
		}
		st.pending += size
		signals = append(signals, models.ExitSignal{
			Instrument: instrument,
			ExitSize:   size,
			ExitPrice:  price,
			Reason:     reason,
			Confidence: confidence,
			Timestamp:  now,
		})
		if p.metrics != nil {
			p.metrics.RecordExit(instrument, reason)
		}
	}

	// Ladder levels.
	for i := range plan.Levels {
		lv := &plan.Levels[i]
		if lv.Executed || st.emitted[i] {
			continue
		}
		if pf >= lv.ProfitTarget {
			st.emitted[i] = true
			emit(lv.Fraction*plan.OriginalSize, ReasonProfitTarget, 0.9)
		}
	}

	// Trailing stop: arms once in profit, then only tightens. The
	// distance comes from the next pending ladder rung, so the stop
	// widens with the rung targets as the position scales out.
	if pf >= trailingActivationPct {
		dist := plan.TrailingDistance
		for i := range plan.Levels {
			lv := &plan.Levels[i]
			if lv.Executed || st.emitted[i] {
				continue
			}
			if lv.TrailingDistance > 0 {
				dist = lv.TrailingDistance
			}
			break
		}
		if plan.Side == models.SideLong {
			cand := price * (1 - dist)
			if plan.TrailingStop == 0 || cand > plan.TrailingStop {
				plan.TrailingStop = cand
			}
		} else {
			cand := price * (1 + dist)
			if plan.TrailingStop == 0 || cand < plan.TrailingStop {
				plan.TrailingStop = cand
			}
		}
	}
	if plan.TrailingStop != 0 && !st.trailingFired && crossed(plan.Side, price, plan.TrailingStop) {
		st.trailingFired = true
		emit(plan.RemainingSize()-st.pending, ReasonTrailingStop, 0.95)
	}

	// Emergency stop deactivates the plan on the spot.
	if crossed(plan.Side, price, plan.EmergencyStop) {
		emit(plan.RemainingSize()-st.pending, ReasonEmergencyStop, 1.0)
		plan.Active = false
		p.l.Warn("emergency stop breached",
			applogger.String("instrument", instrument),
			applogger.Float64("price", price),
			applogger.Float64("stop", plan.EmergencyStop),
		)
		return signals
	}

	// Time limits: per level, then the whole position.
	held := now.Sub(plan.CreatedAt)
	for i := range plan.Levels {
		lv := &plan.Levels[i]
		if lv.Executed || st.emitted[i] || lv.TimeLimit <= 0 {
			continue
		}
		if held >= lv.TimeLimit {
			st.emitted[i] = true
			emit(lv.Fraction*plan.OriginalSize, ReasonTimeLimit, 0.6)
		}
	}
	if p.cfg.MaxHoldingTime > 0 && !st.timeFired && held >= p.cfg.MaxHoldingTime {
		st.timeFired = true
		emit(plan.RemainingSize()-st.pending, ReasonTimeLimit, 0.7)
	}

	return signals
}

// ExecuteExit confirms a fill against the plan. Oversized or malformed
// exits are rejected without mutating state. A plan with at least 99%
// of its size exited is closed and archived into the instrument stats.
func (p *Planner) ExecuteExit(instrument string, sig models.ExitSignal) error {
	st := p.state(instrument)
	if st == nil {
		return fmt.Errorf("exits: no plan for %s", instrument)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	plan := st.plan
	if sig.ExitSize <= 0 || sig.ExitPrice <= 0 {
		return fmt.Errorf("exits: invalid exit size %v or price %v", sig.ExitSize, sig.ExitPrice)
	}
	if sig.ExitSize > plan.RemainingSize()+sizeEpsilon {
		return fmt.Errorf("exits: exit size %v exceeds remaining %v for %s", sig.ExitSize, plan.RemainingSize(), instrument)
	}

	p.apply(st, sig)
	return nil
}

// apply books a fill. Callers hold st.mu.
func (p *Planner) apply(st *planState, sig models.ExitSignal) {
	plan := st.plan
	now := p.now()

	pnl := (sig.ExitPrice - plan.EntryPrice) * sig.ExitSize
	if plan.Side == models.SideShort {
		pnl = -pnl
	}
	plan.TotalExited += sig.ExitSize
	plan.RealizedPnL += pnl
	plan.LastUpdatedAt = now
	if st.pending -= sig.ExitSize; st.pending < 0 {
		st.pending = 0
	}

	for i := range plan.Levels {
		lv := &plan.Levels[i]
		if !lv.Executed {
			lv.Executed = true
			lv.ExecutionPrice = sig.ExitPrice
			lv.ExecutionTime = now
			break
		}
	}

	if !st.archived && plan.TotalExited >= closedThreshold*plan.OriginalSize {
		plan.Active = false
		st.archived = true
		p.archive(plan, now)
		p.l.Info("exit plan closed",
			applogger.String("instrument", plan.Instrument),
			applogger.Float64("realized_pnl", plan.RealizedPnL),
		)
	}
}

// ClosePosition force-exits the entire remaining size at the given
// price, books it immediately, and returns the signal for publication.
func (p *Planner) ClosePosition(instrument string, price float64) (*models.ExitSignal, error) {
	if price <= 0 {
		return nil, fmt.Errorf("exits: invalid close price %v", price)
	}
	st := p.state(instrument)
	if st == nil {
		return nil, fmt.Errorf("exits: no plan for %s", instrument)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	plan := st.plan
	remaining := plan.RemainingSize()
	if remaining <= sizeEpsilon {
		return nil, fmt.Errorf("exits: plan for %s already fully exited", instrument)
	}

	sig := models.ExitSignal{
		Instrument: instrument,
		ExitSize:   remaining,
		ExitPrice:  price,
		Reason:     ReasonForcedClose,
		Confidence: 1.0,
		Timestamp:  p.now(),
	}
	if p.metrics != nil {
		p.metrics.RecordExit(instrument, ReasonForcedClose)
	}
	p.apply(st, sig)
	return &sig, nil
}

// Plan returns a snapshot of the instrument's plan, closed or active.
func (p *Planner) Plan(instrument string) (*models.PositionExitPlan, bool) {
	st := p.state(instrument)
	if st == nil {
		return nil, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return copyPlan(st.plan), true
}

// Plans returns snapshots of all known plans.
func (p *Planner) Plans() []*models.PositionExitPlan {
	p.mu.RLock()
	states := make([]*planState, 0, len(p.plans))
	for _, st := range p.plans {
		states = append(states, st)
	}
	p.mu.RUnlock()

	out := make([]*models.PositionExitPlan, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, copyPlan(st.plan))
		st.mu.Unlock()
	}
	return out
}

// Stats returns the closed-plan aggregate for an instrument.
func (p *Planner) Stats(instrument string) (models.InstrumentExitStats, bool) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	s, ok := p.stats[instrument]
	if !ok {
		return models.InstrumentExitStats{}, false
	}
	return *s, true
}

// AllStats returns closed-plan aggregates for every instrument seen.
func (p *Planner) AllStats() []models.InstrumentExitStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	out := make([]models.InstrumentExitStats, 0, len(p.stats))
	for _, s := range p.stats {
		out = append(out, *s)
	}
	return out
}

func (p *Planner) state(instrument string) *planState {
	p.mu.RLock()
	st := p.plans[instrument]
	p.mu.RUnlock()
	return st
}

func (p *Planner) archive(plan *models.PositionExitPlan, now time.Time) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	s, ok := p.stats[plan.Instrument]
	if !ok {
		s = &models.InstrumentExitStats{Instrument: plan.Instrument}
		p.stats[plan.Instrument] = s
	}

	holding := now.Sub(plan.CreatedAt)
	s.ClosedPlans++
	if plan.RealizedPnL > 0 {
		s.Wins++
	}
	s.WinRate = float64(s.Wins) / float64(s.ClosedPlans)
	s.TotalPnL += plan.RealizedPnL
	if s.ClosedPlans == 1 {
		s.BestTrade = plan.RealizedPnL
		s.WorstTrade = plan.RealizedPnL
		s.AvgHoldingTime = holding
	} else {
		if plan.RealizedPnL > s.BestTrade {
			s.BestTrade = plan.RealizedPnL
		}
		if plan.RealizedPnL < s.WorstTrade {
			s.WorstTrade = plan.RealizedPnL
		}
		s.AvgHoldingTime = time.Duration((1-holdingTimeAlpha)*float64(s.AvgHoldingTime) + holdingTimeAlpha*float64(holding))
	}
}

// profitFraction is the signed unrealized gain from entry.
func profitFraction(plan *models.PositionExitPlan, price float64) float64 {
	if plan.Side == models.SideLong {
		return (price - plan.EntryPrice) / plan.EntryPrice
	}
	return (plan.EntryPrice - price) / plan.EntryPrice
}

// crossed reports whether price breached a protective stop.
func crossed(side models.Side, price, stop float64) bool {
	if stop == 0 {
		return false
	}
	if side == models.SideLong {
		return price <= stop
	}
	return price >= stop
}

func copyPlan(plan *models.PositionExitPlan) *models.PositionExitPlan {
	cp := *plan
	cp.Levels = make([]models.ExitLevel, len(plan.Levels))
	copy(cp.Levels, plan.Levels)
	return &cp
}
