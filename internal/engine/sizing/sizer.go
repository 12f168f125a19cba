package sizing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	domsvc "TradeCore/internal/domain/service"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/util"
)

const (
	tradeWindow     = 50
	volWindow       = 50
	minKellyTrades  = 10
	minVolSamples   = 5
	regulatoryCap   = 0.10
	drawdownOverlay = 0.15
	volOverlay      = 0.30
)

// Config holds the sizer's risk budget.
type Config struct {
	MaxPortfolioRisk  float64 // hard per-position budget as portfolio fraction
	MinPositionSize   float64
	MaxKellyFraction  float64
	KellyConservatism float64 // fraction of full Kelly actually taken
	TargetVolatility  float64
	HistorySize       int // sizing decisions kept for statistics
}

func DefaultConfig() Config {
	return Config{
		MaxPortfolioRisk:  0.05,
		MinPositionSize:   0.005,
		MaxKellyFraction:  0.25,
		KellyConservatism: 0.5,
		TargetVolatility:  0.15,
		HistorySize:       200,
	}
}

// Request carries one sizing computation's inputs.
type Request struct {
	Instrument     string
	SignalStrength float64
	Confidence     float64
	Regime         *models.RegimeRecord
	Risk           models.RiskMetrics
	OpenPositions  map[string]float64 // instrument -> portfolio fraction
}

var regimeMultipliers = map[models.Regime]float64{
	models.RegimeTrendingUp:   1.3,
	models.RegimeTrendingDown: 1.3,
	models.RegimeVolatile:     0.6,
	models.RegimeRanging:      0.8,
	models.RegimeCalm:         1.1,
	models.RegimeUnknown:      1.0,
}

// Sizer blends Kelly, volatility targeting, regime and risk adjustments
// into one bounded position size. Failures of the correlation
// collaborator never propagate; a conservative fallback is used instead.
type Sizer struct {
	cfg         Config
	l           *applogger.Logger
	metrics     domrepo.Metrics
	correlation domsvc.CorrelationSource

	mu         sync.Mutex
	trades     *util.Window // realized trade outcomes, portfolio fractions
	volatility *util.Window
	history    []*models.SizingDecision
	histHead   int
	histCount  int
}

func NewSizer(cfg Config, correlation domsvc.CorrelationSource, l *applogger.Logger, metrics domrepo.Metrics) *Sizer {
	if cfg.MaxPortfolioRisk <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}
	return &Sizer{
		cfg:         cfg,
		l:           l,
		metrics:     metrics,
		correlation: correlation,
		trades:      util.NewWindow(tradeWindow),
		volatility:  util.NewWindow(volWindow),
		history:     make([]*models.SizingDecision, cfg.HistorySize),
	}
}

// RecordTradeOutcome feeds one realized outcome into the Kelly window.
func (s *Sizer) RecordTradeOutcome(outcome float64) {
	s.mu.Lock()
	s.trades.Push(outcome)
	s.mu.Unlock()
}

// ObserveVolatility feeds one realized-volatility sample into the
// targeting window.
func (s *Sizer) ObserveVolatility(v float64) {
	if v <= 0 {
		return
	}
	s.mu.Lock()
	s.volatility.Push(v)
	s.mu.Unlock()
}

// ComputeSize derives a bounded position size with a full breakdown of
// every intermediate estimate.
func (s *Sizer) ComputeSize(ctx context.Context, req Request) *models.SizingDecision {
	start := time.Now()
	conf := util.Clamp(req.Confidence, 0, 1)

	s.mu.Lock()
	kelly := s.kellySize(conf)
	volTarget := s.volTargetSize()
	s.mu.Unlock()

	regimeSize := s.regimeAdjust(kelly, req.Regime)
	riskSize, corr := s.riskAdjust(ctx, regimeSize, req)
	signalSize := riskSize * math.Min(req.SignalStrength/5, 2) * (0.5 + 0.5*conf)

	final := util.Clamp(signalSize, s.cfg.MinPositionSize, s.cfg.MaxPortfolioRisk)
	if req.Risk.CurrentDrawdown > drawdownOverlay {
		final *= 0.5
	}
	if req.Risk.Volatility24h > volOverlay {
		final *= 0.7
	}
	// Overlays may undercut the floor; the bounds are the contract.
	final = util.Clamp(final, s.cfg.MinPositionSize, regulatoryCap)

	halfWidth := final * (1 - conf) * 0.5
	d := &models.SizingDecision{
		Instrument:       req.Instrument,
		SignalStrength:   req.SignalStrength,
		SignalConfidence: conf,
		KellySize:        kelly,
		VolTargetSize:    volTarget,
		RegimeSize:       regimeSize,
		RiskAdjustedSize: riskSize,
		SignalSize:       signalSize,
		FinalSize:        final,
		IntervalLow:      final - halfWidth,
		IntervalHigh:     final + halfWidth,
		Timestamp:        time.Now(),
	}
	if req.Regime != nil {
		d.Regime = req.Regime.Regime
	} else {
		d.Regime = models.RegimeUnknown
	}
	d.Reasoning = s.explain(d, req, corr)

	s.mu.Lock()
	s.history[s.histHead] = d
	s.histHead = (s.histHead + 1) % len(s.history)
	if s.histCount < len(s.history) {
		s.histCount++
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordPositionSize(req.Instrument, final)
		s.metrics.RecordLatency("compute_size", time.Since(start).Seconds())
	}
	return d
}

// kellySize estimates the Kelly fraction from the recent trade window.
// Caller holds s.mu.
func (s *Sizer) kellySize(conf float64) float64 {
	if s.trades.Len() < minKellyTrades {
		return s.cfg.MaxPortfolioRisk * conf
	}
	outcomes := s.trades.Values()
	var wins, losses []float64
	for _, o := range outcomes {
		if o > 0 {
			wins = append(wins, o)
		} else if o < 0 {
			losses = append(losses, -o)
		}
	}
	winRate := float64(len(wins)) / float64(len(outcomes))
	ratio := 2.0
	if len(losses) > 0 && util.Mean(losses) > 0 {
		ratio = util.Mean(wins) / util.Mean(losses)
	}
	if ratio <= 0 {
		ratio = 2.0
	}
	kelly := (winRate*(ratio+1) - 1) / ratio
	kelly = util.Clamp(kelly*s.cfg.KellyConservatism, 0, s.cfg.MaxKellyFraction) * conf
	return math.Min(kelly, s.cfg.MaxPortfolioRisk)
}

// volTargetSize scales the budget toward the target volatility.
// Caller holds s.mu.
func (s *Sizer) volTargetSize() float64 {
	if s.volatility.Len() < minVolSamples {
		return s.cfg.MaxPortfolioRisk * 0.5
	}
	meanVol := util.Mean(s.volatility.Values())
	if meanVol <= 0 {
		return s.cfg.MaxPortfolioRisk * 0.5
	}
	scalar := util.Clamp(s.cfg.TargetVolatility/meanVol, 0.1, 3.0)
	return s.cfg.MaxPortfolioRisk * scalar
}

func (s *Sizer) regimeAdjust(kelly float64, reg *models.RegimeRecord) float64 {
	if reg == nil {
		return kelly
	}
	mult := regimeMultipliers[reg.Regime]
	if mult == 0 {
		mult = 1
	}
	size := kelly * mult * (0.8 + 0.4*util.Clamp(reg.Confidence, 0, 1))
	if reg.Regime == models.RegimeVolatile && reg.VolatilityLevel > 0.8 {
		size *= 0.7
	}
	if reg.Regime.IsTrending() {
		size *= 1 + math.Min(0.3, reg.TrendStrength*0.3)
	}
	return size
}

// riskAdjust successively discounts for drawdown, poor Sharpe, exposure
// concentration, and correlation risk.
func (s *Sizer) riskAdjust(ctx context.Context, size float64, req Request) (float64, models.CorrelationRisk) {
	if req.Risk.CurrentDrawdown > 0.05 {
		size *= math.Max(0.3, 1-2*req.Risk.CurrentDrawdown)
	}
	if req.Risk.SharpeRatio < 0.5 {
		size *= math.Max(0.5, 2*req.Risk.SharpeRatio)
	}
	total := 0.0
	for _, exp := range req.OpenPositions {
		total += math.Abs(exp)
	}
	if total > 0.8 {
		size *= 0.7
	}

	corr := s.lookupCorrelation(ctx, req)
	if corr.Score > 0.7 {
		size *= math.Max(0.3, 1-corr.Score)
	}
	return size, corr
}

func (s *Sizer) lookupCorrelation(ctx context.Context, req Request) models.CorrelationRisk {
	if s.correlation == nil {
		return models.CorrelationRisk{
			Score:          ExposureConcentration(req.OpenPositions),
			Source:         models.CorrelationFallback,
			FallbackReason: "no correlation source configured",
		}
	}
	corr := s.correlation.CorrelationRisk(ctx, req.Instrument, req.OpenPositions)
	if corr.Source == models.CorrelationFallback {
		// A fallback answer with no score scores the book's own
		// concentration, same as having no collaborator at all.
		if corr.Score == 0 {
			corr.Score = ExposureConcentration(req.OpenPositions)
		}
		s.l.Warn("correlation fallback in use",
			applogger.String("instrument", req.Instrument),
			applogger.String("reason", corr.FallbackReason),
		)
		if s.metrics != nil {
			s.metrics.RecordError("correlation_fallback")
		}
	}
	corr.Score = util.Clamp(corr.Score, 0, 1)
	return corr
}

// ExposureConcentration is the conservative stand-in for correlation
// risk when the collaborator is unavailable: the largest single exposure
// as a share of total exposure.
func ExposureConcentration(open map[string]float64) float64 {
	total, largest := 0.0, 0.0
	for _, exp := range open {
		a := math.Abs(exp)
		total += a
		if a > largest {
			largest = a
		}
	}
	if total == 0 {
		return 0
	}
	return largest / total
}

func (s *Sizer) explain(d *models.SizingDecision, req Request, corr models.CorrelationRisk) string {
	r := fmt.Sprintf("kelly=%.4f volTarget=%.4f regime(%s)=%.4f risk=%.4f signal=%.4f final=%.4f",
		d.KellySize, d.VolTargetSize, d.Regime, d.RegimeSize, d.RiskAdjustedSize, d.SignalSize, d.FinalSize)
	if req.Risk.CurrentDrawdown > drawdownOverlay {
		r += fmt.Sprintf("; drawdown overlay x0.5 (dd=%.2f)", req.Risk.CurrentDrawdown)
	}
	if req.Risk.Volatility24h > volOverlay {
		r += fmt.Sprintf("; volatility overlay x0.7 (vol=%.2f)", req.Risk.Volatility24h)
	}
	if corr.Source == models.CorrelationFallback {
		r += "; correlation fallback: " + corr.FallbackReason
	}
	return r
}

// History returns the retained sizing decisions, newest last.
func (s *Sizer) History() []*models.SizingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.SizingDecision, 0, s.histCount)
	start := s.histHead - s.histCount
	for i := 0; i < s.histCount; i++ {
		idx := ((start+i)%len(s.history) + len(s.history)) % len(s.history)
		out = append(out, s.history[idx])
	}
	return out
}
