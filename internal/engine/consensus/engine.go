package consensus

import (
	"fmt"
	"math"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/util"
)

const (
	feedbackAlpha    = 0.1
	reweightMinVotes = 10
)

// Config bounds the engine's retained state.
type Config struct {
	HistorySize int // consensus results kept for statistics
}

func DefaultConfig() Config {
	return Config{HistorySize: 500}
}

type instrumentBuffer struct {
	mu      sync.Mutex
	pending []models.AgentSignal
}

// Engine aggregates agent signals into consensus decisions and learns
// per-agent voting weights from realized outcomes. Pending buffers are
// locked per instrument; the agent registry is read-mostly.
type Engine struct {
	cfg     Config
	l       *applogger.Logger
	metrics domrepo.Metrics

	agentsMu sync.RWMutex
	agents   map[string]*models.AgentPerformance

	buffersMu sync.Mutex
	buffers   map[string]*instrumentBuffer

	historyMu sync.Mutex
	history   []*models.ConsensusResult
	histHead  int
	histCount int

	votesTotal     int
	consensusTotal int
}

func NewEngine(cfg Config, l *applogger.Logger, metrics domrepo.Metrics) *Engine {
	if cfg.HistorySize <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{
		cfg:     cfg,
		l:       l,
		metrics: metrics,
		agents:  make(map[string]*models.AgentPerformance),
		buffers: make(map[string]*instrumentBuffer),
		history: make([]*models.ConsensusResult, cfg.HistorySize),
	}
}

// RegisterAgent creates a performance record with neutral priors. Calling
// it again for the same id is a no-op.
func (e *Engine) RegisterAgent(id, agentType, specialization string, baseWeight float64) {
	if id == "" {
		return
	}
	if baseWeight <= 0 {
		baseWeight = 1.0
	}
	e.agentsMu.Lock()
	defer e.agentsMu.Unlock()
	if _, ok := e.agents[id]; ok {
		return
	}
	e.agents[id] = &models.AgentPerformance{
		AgentID:            id,
		AgentType:          agentType,
		Specialization:     specialization,
		BaseWeight:         baseWeight,
		Weight:             baseWeight,
		WinRate:            0.5,
		SharpeRatio:        1.0,
		MaxDrawdown:        0.1,
		ConfidenceAccuracy: 0.5,
		RegimeWinRate:      make(map[models.Regime]float64),
		LastUpdated:        time.Now(),
	}
	e.l.Info("agent registered",
		applogger.String("agent", id),
		applogger.String("type", agentType),
		applogger.Float64("base_weight", baseWeight),
	)
}

// SubmitSignal appends a signal to the instrument's pending buffer.
// Submissions from unregistered agents are dropped with a warning, never
// an error.
func (e *Engine) SubmitSignal(sig models.AgentSignal) {
	if sig.Instrument == "" || !models.IsValidSignalType(sig.Type) {
		e.l.Warn("malformed signal dropped",
			applogger.String("agent", sig.AgentID),
			applogger.String("instrument", sig.Instrument),
		)
		if e.metrics != nil {
			e.metrics.RecordError("signal_malformed")
		}
		return
	}
	e.agentsMu.RLock()
	_, registered := e.agents[sig.AgentID]
	e.agentsMu.RUnlock()
	if !registered {
		e.l.Warn("signal from unregistered agent dropped", applogger.String("agent", sig.AgentID))
		if e.metrics != nil {
			e.metrics.RecordError("signal_unregistered")
		}
		return
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now()
	}
	sig.Confidence = util.Clamp(sig.Confidence, 0, 1)

	b := e.buffer(sig.Instrument)
	b.mu.Lock()
	b.pending = append(b.pending, sig)
	b.mu.Unlock()
}

func (e *Engine) buffer(instrument string) *instrumentBuffer {
	e.buffersMu.Lock()
	defer e.buffersMu.Unlock()
	b, ok := e.buffers[instrument]
	if !ok {
		b = &instrumentBuffer{}
		e.buffers[instrument] = b
	}
	return b
}

// PendingCount returns the number of undrained signals for an instrument.
func (e *Engine) PendingCount(instrument string) int {
	b := e.buffer(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// ConductVote atomically drains the instrument's pending buffer and
// aggregates it into one decision. Signals submitted after the drain
// start a new buffer. An empty buffer yields an explicit no-consensus
// result rather than an error.
func (e *Engine) ConductVote(instrument string, reg *models.RegimeRecord) *models.ConsensusResult {
	res := &models.ConsensusResult{
		Instrument: instrument,
		Timestamp:  time.Now(),
	}
	if instrument == "" {
		e.l.Warn("vote requested without instrument")
		res.Reasoning = "no consensus: missing instrument"
		return res
	}

	b := e.buffer(instrument)
	b.mu.Lock()
	drained := b.pending
	b.pending = nil
	b.mu.Unlock()

	defer func() {
		e.recordResult(res)
	}()

	if len(drained) == 0 {
		res.Reasoning = "no consensus: no pending signals"
		return res
	}

	signals, weights := e.filterAndWeigh(drained, reg)
	if len(signals) == 0 {
		res.Reasoning = "no consensus: all signals filtered by regime"
		return res
	}

	totalWeight := 0.0
	for _, w := range weights {
		totalWeight += w
	}
	if totalWeight <= 0 {
		res.Reasoning = "no consensus: zero total weight"
		return res
	}

	groups := groupSignals(signals, weights, totalWeight)

	var winner *voteGroup
	for _, g := range groups {
		if winner == nil || g.score > winner.score {
			winner = g
		}
	}

	sumParticipation := 0.0
	for _, g := range groups {
		sumParticipation += g.participation
	}

	winning := winner.signalType
	res.Winning = &winning
	res.Confidence = math.Min(1, winner.score)
	// Unnormalized weights can push this ratio past 1; clamp it.
	res.Agreement = util.Clamp(winner.participation/sumParticipation, 0, 1)
	res.TotalVotes = len(signals)
	res.Voters = signals
	res.Participation = e.participationRate(signals)
	res.Reasoning = synthesizeReasoning(winner, len(groups), res.Agreement)
	return res
}

func (e *Engine) participationRate(signals []models.AgentSignal) float64 {
	voters := make(map[string]struct{}, len(signals))
	for _, s := range signals {
		voters[s.AgentID] = struct{}{}
	}
	e.agentsMu.RLock()
	registered := len(e.agents)
	e.agentsMu.RUnlock()
	if registered == 0 {
		return 0
	}
	return float64(len(voters)) / float64(registered)
}

func (e *Engine) recordResult(res *models.ConsensusResult) {
	e.historyMu.Lock()
	e.history[e.histHead] = res
	e.histHead = (e.histHead + 1) % len(e.history)
	if e.histCount < len(e.history) {
		e.histCount++
	}
	e.votesTotal++
	if res.HasConsensus() {
		e.consensusTotal++
	}
	e.historyMu.Unlock()
	if e.metrics != nil {
		e.metrics.RecordVote(res.Instrument, res.HasConsensus())
	}
}

type voteGroup struct {
	signalType    models.SignalType
	weight        float64
	confidence    float64 // weight-normalized
	strength      float64 // weight-normalized
	participation float64
	score         float64
	bestRationale string
	bestConf      float64
}

// groupSignals buckets signals by type preserving first-encountered order,
// which is also the arg-max tie-break order.
func groupSignals(signals []models.AgentSignal, weights []float64, totalWeight float64) []*voteGroup {
	index := make(map[models.SignalType]*voteGroup)
	var ordered []*voteGroup
	for i, s := range signals {
		g, ok := index[s.Type]
		if !ok {
			g = &voteGroup{signalType: s.Type}
			index[s.Type] = g
			ordered = append(ordered, g)
		}
		w := weights[i]
		g.weight += w
		g.confidence += w * s.Confidence
		g.strength += w * s.Strength
		if s.Confidence >= g.bestConf {
			g.bestConf = s.Confidence
			g.bestRationale = s.Rationale
		}
	}
	for _, g := range ordered {
		if g.weight > 0 {
			g.confidence /= g.weight
			g.strength /= g.weight
		}
		g.participation = g.weight / totalWeight
		g.score = g.confidence * g.strength * g.participation
	}
	return ordered
}

func synthesizeReasoning(winner *voteGroup, groupCount int, agreement float64) string {
	s := fmt.Sprintf("%s wins %d-way vote: confidence=%.2f strength=%.2f agreement=%.2f",
		winner.signalType, groupCount, winner.confidence, winner.strength, agreement)
	if winner.bestRationale != "" {
		s += "; top voter: " + winner.bestRationale
	}
	return s
}

// Agent returns a copy of one agent's performance record.
func (e *Engine) Agent(id string) (models.AgentPerformance, bool) {
	e.agentsMu.RLock()
	defer e.agentsMu.RUnlock()
	p, ok := e.agents[id]
	if !ok {
		return models.AgentPerformance{}, false
	}
	cp := *p
	cp.RegimeWinRate = make(map[models.Regime]float64, len(p.RegimeWinRate))
	for k, v := range p.RegimeWinRate {
		cp.RegimeWinRate[k] = v
	}
	return cp, true
}

// Agents returns copies of all registered agents' performance records.
func (e *Engine) Agents() []models.AgentPerformance {
	e.agentsMu.RLock()
	ids := make([]string, 0, len(e.agents))
	for id := range e.agents {
		ids = append(ids, id)
	}
	e.agentsMu.RUnlock()
	out := make([]models.AgentPerformance, 0, len(ids))
	for _, id := range ids {
		if p, ok := e.Agent(id); ok {
			out = append(out, p)
		}
	}
	return out
}

// Stats summarizes the rolling vote history.
type Stats struct {
	VotesTotal     int
	ConsensusTotal int
	ConsensusRate  float64
	HistoryLen     int
}

func (e *Engine) Stats() Stats {
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	s := Stats{
		VotesTotal:     e.votesTotal,
		ConsensusTotal: e.consensusTotal,
		HistoryLen:     e.histCount,
	}
	if e.votesTotal > 0 {
		s.ConsensusRate = float64(e.consensusTotal) / float64(e.votesTotal)
	}
	return s
}
