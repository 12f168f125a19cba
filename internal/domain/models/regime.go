package models

import "time"

// Regime is a coarse classification of current market behavior.
type Regime string

const (
	RegimeTrendingUp   Regime = "trending_up"
	RegimeTrendingDown Regime = "trending_down"
	RegimeRanging      Regime = "ranging"
	RegimeVolatile     Regime = "volatile"
	RegimeCalm         Regime = "calm"
	RegimeUnknown      Regime = "unknown"
)

// IsTrending reports whether the regime is directional.
func (r Regime) IsTrending() bool {
	return r == RegimeTrendingUp || r == RegimeTrendingDown
}

// RegimeRecord is one classification of an instrument's market behavior.
// Records are immutable; a new sample produces a new record.
type RegimeRecord struct {
	Instrument        string
	Regime            Regime
	Confidence        float64 // 0..1
	TrendStrength     float64
	VolatilityLevel   float64
	RangeBoundScore   float64
	MomentumScore     float64
	ADXScore          float64
	RSIDivergence     float64
	BollingerPosition float64 // 0..1 within the bands
	VolumeTrendSlope  float64
	Timestamp         time.Time
}

// Tick is one market-data sample for an instrument.
type Tick struct {
	Instrument string
	Price      float64
	Volume     float64
	High       float64
	Low        float64
	Timestamp  int64 // unix seconds
}
