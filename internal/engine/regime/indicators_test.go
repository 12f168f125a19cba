package regime

import (
	"math"
	"testing"
)

func TestSMATail(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	if got := SMA(xs, 3); got != 4 {
		t.Fatalf("expected 4, got %v", got)
	}
	if got := SMA(xs, 10); got != 0 {
		t.Fatalf("expected 0 for short input, got %v", got)
	}
}

func TestRSIAllGainsSaturates(t *testing.T) {
	xs := make([]float64, 30)
	for i := range xs {
		xs[i] = 100 + float64(i)
	}
	if got := RSI(xs, 14); got < 99 {
		t.Fatalf("monotone gains should saturate RSI, got %v", got)
	}
	down := make([]float64, 30)
	for i := range down {
		down[i] = 100 - float64(i)
	}
	if got := RSI(down, 14); got > 1 {
		t.Fatalf("monotone losses should floor RSI, got %v", got)
	}
}

func TestRSINeutralOnShortInput(t *testing.T) {
	if got := RSI([]float64{1, 2, 3}, 14); got != 50 {
		t.Fatalf("expected neutral 50, got %v", got)
	}
}

func TestADXDirectionalMarket(t *testing.T) {
	n := 60
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	p := 100.0
	for i := 0; i < n; i++ {
		p += 1
		closes[i] = p
		highs[i] = p + 0.5
		lows[i] = p - 0.5
	}
	adx := ADX(highs, lows, closes, 14)
	if adx < 50 {
		t.Fatalf("one-way market should have high ADX, got %v", adx)
	}
}

func TestADXChoppyMarket(t *testing.T) {
	n := 60
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		p := 100.0
		if i%2 == 0 {
			p = 102
		}
		closes[i] = p
		highs[i] = p + 0.5
		lows[i] = p - 0.5
	}
	adx := ADX(highs, lows, closes, 14)
	if adx > 25 {
		t.Fatalf("choppy market should have low ADX, got %v", adx)
	}
}

func TestBollingerBandsContainMean(t *testing.T) {
	xs := make([]float64, 40)
	for i := range xs {
		xs[i] = 100 + math.Sin(float64(i))
	}
	mid, up, lo := Bollinger(xs, 20, 2)
	if !(lo < mid && mid < up) {
		t.Fatalf("expected lower < middle < upper, got %v %v %v", lo, mid, up)
	}
}

func TestEMASeriesConverges(t *testing.T) {
	xs := make([]float64, 100)
	for i := range xs {
		xs[i] = 42
	}
	out := EMASeries(xs, 12)
	if math.Abs(out[len(out)-1]-42) > 1e-9 {
		t.Fatalf("constant series EMA should equal the constant, got %v", out[len(out)-1])
	}
}
