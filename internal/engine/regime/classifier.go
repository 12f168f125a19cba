package regime

import (
	"sync"
	"time"

	"TradeCore/internal/domain/models"
	domrepo "TradeCore/internal/domain/repository"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/util"
)

const (
	rsiPeriod       = 14
	adxPeriod       = 14
	bollingerPeriod = 20
	bollingerWidth  = 2.0
	emaFastPeriod   = 12
	emaSlowPeriod   = 26

	trendThreshold      = 0.6
	volatileThreshold   = 0.7
	calmVolThreshold    = 0.3
	calmRangeThreshold  = 0.6
	rangeScoreThreshold = 0.5
	rangeTrendThreshold = 0.4

	momentumEpsilon = 1e-5
	stabilityDecay  = 0.99
)

// Config bounds the classifier's per-instrument state.
type Config struct {
	WindowSize int // samples retained per rolling window
	MinSamples int // samples required before a record is emitted
}

// DefaultConfig matches the indicator lookbacks with headroom.
func DefaultConfig() Config {
	return Config{WindowSize: 100, MinSamples: 20}
}

type instrumentWindows struct {
	mu        sync.Mutex
	prices    *util.Window
	volumes   *util.Window
	highs     *util.Window
	lows      *util.Window
	stability map[models.Regime]float64
	last      *models.RegimeRecord
}

// Classifier turns per-instrument tick streams into regime records.
// Each instrument carries its own lock so instruments classify in parallel.
type Classifier struct {
	cfg     Config
	l       *applogger.Logger
	metrics domrepo.Metrics

	mu      sync.RWMutex
	windows map[string]*instrumentWindows
}

func NewClassifier(cfg Config, l *applogger.Logger, metrics domrepo.Metrics) *Classifier {
	if cfg.WindowSize <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.MinSamples < bollingerPeriod {
		cfg.MinSamples = bollingerPeriod
	}
	return &Classifier{
		cfg:     cfg,
		l:       l,
		metrics: metrics,
		windows: make(map[string]*instrumentWindows),
	}
}

func (c *Classifier) state(instrument string) *instrumentWindows {
	c.mu.RLock()
	w, ok := c.windows[instrument]
	c.mu.RUnlock()
	if ok {
		return w
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok = c.windows[instrument]; ok {
		return w
	}
	w = &instrumentWindows{
		prices:    util.NewWindow(c.cfg.WindowSize),
		volumes:   util.NewWindow(c.cfg.WindowSize),
		highs:     util.NewWindow(c.cfg.WindowSize),
		lows:      util.NewWindow(c.cfg.WindowSize),
		stability: make(map[models.Regime]float64),
	}
	c.windows[instrument] = w
	return w
}

// Observe folds one tick into the instrument's windows and, once the
// minimum sample count is reached, returns a fresh regime record. The
// bool is false while data is insufficient.
func (c *Classifier) Observe(t *models.Tick) (*models.RegimeRecord, bool) {
	if t == nil || t.Instrument == "" || t.Price <= 0 {
		if c.metrics != nil {
			c.metrics.RecordError("regime_bad_tick")
		}
		return nil, false
	}
	w := c.state(t.Instrument)
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prices.Push(t.Price)
	w.volumes.Push(t.Volume)
	high, low := t.High, t.Low
	if high <= 0 {
		high = t.Price
	}
	if low <= 0 {
		low = t.Price
	}
	w.highs.Push(high)
	w.lows.Push(low)

	if w.prices.Len() < c.cfg.MinSamples {
		return nil, false
	}

	rec := c.classify(t.Instrument, w)
	c.decayStability(w, rec.Regime)
	w.last = rec
	if c.metrics != nil {
		c.metrics.RecordRegime(t.Instrument, string(rec.Regime))
	}
	return rec, true
}

func (c *Classifier) classify(instrument string, w *instrumentWindows) *models.RegimeRecord {
	prices := w.prices.Values()
	price := prices[len(prices)-1]

	adx := ADX(w.highs.Values(), w.lows.Values(), prices, adxPeriod)
	trendStrength := util.Clamp(adx/25, 0, 1)

	middle, upper, lower := Bollinger(prices, bollingerPeriod, bollingerWidth)
	bollingerPos := 0.5
	if upper > lower {
		bollingerPos = util.Clamp((price-lower)/(upper-lower), 0, 1)
	}
	volLevel := 0.0
	if middle > 0 {
		volLevel = util.Clamp((upper-lower)/middle*100, 0, 1)
	}

	rangeScore := (1 - trendStrength) * (1 - 2*abs(bollingerPos-0.5))
	momentum := macdAcceleration(prices)
	rsi := RSI(prices, rsiPeriod)
	rsiDiv := rsiDivergence(prices, rsi)
	volSlope := util.Slope(w.volumes.Tail(bollingerPeriod))

	rec := &models.RegimeRecord{
		Instrument:        instrument,
		TrendStrength:     trendStrength,
		VolatilityLevel:   volLevel,
		RangeBoundScore:   rangeScore,
		MomentumScore:     momentum,
		ADXScore:          adx,
		RSIDivergence:     rsiDiv,
		BollingerPosition: bollingerPos,
		VolumeTrendSlope:  volSlope,
		Timestamp:         time.Now(),
	}

	switch {
	case trendStrength > trendThreshold:
		if momentum > momentumEpsilon {
			rec.Regime = models.RegimeTrendingUp
		} else if momentum < -momentumEpsilon {
			rec.Regime = models.RegimeTrendingDown
		} else if bollingerPos >= 0.5 {
			rec.Regime = models.RegimeTrendingUp
		} else {
			rec.Regime = models.RegimeTrendingDown
		}
		rec.Confidence = util.Clamp(trendStrength, 0, 0.95)
	case volLevel > volatileThreshold:
		rec.Regime = models.RegimeVolatile
		rec.Confidence = util.Clamp(volLevel, 0, 0.9)
	case volLevel < calmVolThreshold && rangeScore > calmRangeThreshold:
		rec.Regime = models.RegimeCalm
		rec.Confidence = util.Clamp(rangeScore, 0, 0.85)
	case rangeScore > rangeScoreThreshold && trendStrength < rangeTrendThreshold:
		rec.Regime = models.RegimeRanging
		rec.Confidence = util.Clamp(rangeScore, 0, 0.95)
	default:
		rec.Regime = models.RegimeRanging
		rec.Confidence = util.Clamp(rangeScore, 0, 0.95)
	}
	return rec
}

func (c *Classifier) decayStability(w *instrumentWindows, chosen models.Regime) {
	for k := range w.stability {
		w.stability[k] *= stabilityDecay
	}
	w.stability[chosen]++
}

// Latest returns the most recent record for an instrument, if any.
func (c *Classifier) Latest(instrument string) (*models.RegimeRecord, bool) {
	c.mu.RLock()
	w, ok := c.windows[instrument]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.last == nil {
		return nil, false
	}
	rec := *w.last
	return &rec, true
}

// Stability returns the decayed occurrence share per regime for an
// instrument, normalized to sum to 1.
func (c *Classifier) Stability(instrument string) map[models.Regime]float64 {
	out := make(map[models.Regime]float64)
	c.mu.RLock()
	w, ok := c.windows[instrument]
	c.mu.RUnlock()
	if !ok {
		return out
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	total := 0.0
	for _, v := range w.stability {
		total += v
	}
	if total == 0 {
		return out
	}
	for k, v := range w.stability {
		out[k] = v / total
	}
	return out
}

// macdAcceleration is the second difference of the EMA(12)-EMA(26)
// spread, normalized by the slow EMA.
func macdAcceleration(prices []float64) float64 {
	if len(prices) < 3 {
		return 0
	}
	fast := EMASeries(prices, emaFastPeriod)
	slow := EMASeries(prices, emaSlowPeriod)
	n := len(prices)
	s0 := fast[n-1] - slow[n-1]
	s1 := fast[n-2] - slow[n-2]
	s2 := fast[n-3] - slow[n-3]
	if slow[n-1] == 0 {
		return 0
	}
	return (s0 - 2*s1 + s2) / slow[n-1]
}

// rsiDivergence compares RSI displacement against recent price drift; a
// positive value means RSI leads price to the upside.
func rsiDivergence(prices []float64, rsi float64) float64 {
	if len(prices) < 5 {
		return 0
	}
	p0 := prices[len(prices)-5]
	p1 := prices[len(prices)-1]
	if p0 == 0 {
		return 0
	}
	priceDrift := (p1 - p0) / p0
	return (rsi-50)/50 - priceDrift
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
