package regime

import (
	"math"
	"testing"

	"TradeCore/internal/domain/models"
	applogger "TradeCore/pkg/logger"
)

func newTestClassifier() *Classifier {
	return NewClassifier(DefaultConfig(), applogger.Nop(), nil)
}

func feed(c *Classifier, instrument string, prices []float64) (*models.RegimeRecord, bool) {
	var rec *models.RegimeRecord
	var ok bool
	for i, p := range prices {
		rec, ok = c.Observe(&models.Tick{
			Instrument: instrument,
			Price:      p,
			Volume:     1000,
			High:       p * 1.001,
			Low:        p * 0.999,
			Timestamp:  int64(i),
		})
	}
	return rec, ok
}

func TestInsufficientDataEmitsNothing(t *testing.T) {
	c := newTestClassifier()
	for i := 0; i < 19; i++ {
		if _, ok := c.Observe(&models.Tick{Instrument: "BTC-USD", Price: 100, Volume: 1}); ok {
			t.Fatalf("record emitted at sample %d, below minimum", i+1)
		}
	}
	if _, ok := c.Latest("BTC-USD"); ok {
		t.Fatalf("latest should be empty below minimum samples")
	}
}

func TestUptrendClassifiesTrendingUp(t *testing.T) {
	c := newTestClassifier()
	prices := make([]float64, 60)
	p := 100.0
	for i := range prices {
		p *= 1.002
		prices[i] = p
	}
	rec, ok := feed(c, "BTC-USD", prices)
	if !ok {
		t.Fatalf("expected a record")
	}
	if rec.Regime != models.RegimeTrendingUp {
		t.Fatalf("expected trending_up, got %s (trend=%v mom=%v boll=%v)",
			rec.Regime, rec.TrendStrength, rec.MomentumScore, rec.BollingerPosition)
	}
	if rec.TrendStrength <= trendThreshold {
		t.Fatalf("expected trend strength above %v, got %v", trendThreshold, rec.TrendStrength)
	}
}

func TestDowntrendClassifiesTrendingDown(t *testing.T) {
	c := newTestClassifier()
	prices := make([]float64, 60)
	p := 100.0
	for i := range prices {
		p *= 0.998
		prices[i] = p
	}
	rec, ok := feed(c, "ETH-USD", prices)
	if !ok {
		t.Fatalf("expected a record")
	}
	if rec.Regime != models.RegimeTrendingDown {
		t.Fatalf("expected trending_down, got %s", rec.Regime)
	}
}

func TestChoppyMarketClassifiesVolatile(t *testing.T) {
	c := newTestClassifier()
	prices := make([]float64, 60)
	for i := range prices {
		if i%2 == 0 {
			prices[i] = 100
		} else {
			prices[i] = 104
		}
	}
	rec, ok := feed(c, "SOL-USD", prices)
	if !ok {
		t.Fatalf("expected a record")
	}
	if rec.Regime != models.RegimeVolatile {
		t.Fatalf("expected volatile, got %s (vol=%v trend=%v)", rec.Regime, rec.VolatilityLevel, rec.TrendStrength)
	}
	if rec.Confidence > 0.9 {
		t.Fatalf("volatile confidence cap exceeded: %v", rec.Confidence)
	}
}

func TestQuietMarketClassifiesCalm(t *testing.T) {
	c := newTestClassifier()
	offsets := []float64{0, 0.002, 0, -0.002}
	prices := make([]float64, 61)
	for i := range prices {
		prices[i] = 100 + offsets[i%4]
	}
	rec, ok := feed(c, "ADA-USD", prices)
	if !ok {
		t.Fatalf("expected a record")
	}
	if rec.Regime != models.RegimeCalm {
		t.Fatalf("expected calm, got %s (vol=%v range=%v)", rec.Regime, rec.VolatilityLevel, rec.RangeBoundScore)
	}
	if rec.Confidence > 0.85 {
		t.Fatalf("calm confidence cap exceeded: %v", rec.Confidence)
	}
}

func TestConfidenceAlwaysInUnitInterval(t *testing.T) {
	c := newTestClassifier()
	series := [][]float64{
		make([]float64, 80), make([]float64, 80), make([]float64, 80),
	}
	p := 50.0
	for i := range series[0] {
		p *= 1.01
		series[0][i] = p
		series[1][i] = 100 + 3*math.Sin(float64(i))
		series[2][i] = 100 + 0.15*math.Sin(float64(i+1)*math.Pi/10)
	}
	for si, prices := range series {
		rec, ok := feed(c, "X", prices)
		if !ok {
			t.Fatalf("series %d: expected a record", si)
		}
		if rec.Confidence < 0 || rec.Confidence > 1 {
			t.Fatalf("series %d: confidence out of range: %v", si, rec.Confidence)
		}
		if rec.Regime == models.RegimeUnknown {
			t.Fatalf("series %d: classifier emitted unknown", si)
		}
	}
}

func TestStabilitySharesNormalized(t *testing.T) {
	c := newTestClassifier()
	prices := make([]float64, 60)
	p := 100.0
	for i := range prices {
		p *= 1.002
		prices[i] = p
	}
	feed(c, "BTC-USD", prices)
	shares := c.Stability("BTC-USD")
	total := 0.0
	for _, v := range shares {
		total += v
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("shares should sum to 1, got %v", total)
	}
	if shares[models.RegimeTrendingUp] == 0 {
		t.Fatalf("expected trending_up share present")
	}
}

func TestBadTickIgnored(t *testing.T) {
	c := newTestClassifier()
	if _, ok := c.Observe(nil); ok {
		t.Fatalf("nil tick must not produce a record")
	}
	if _, ok := c.Observe(&models.Tick{Instrument: "", Price: 100}); ok {
		t.Fatalf("empty instrument must not produce a record")
	}
	if _, ok := c.Observe(&models.Tick{Instrument: "BTC-USD", Price: -1}); ok {
		t.Fatalf("negative price must not produce a record")
	}
}
