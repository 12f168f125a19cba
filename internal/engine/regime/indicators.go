package regime

import (
	"math"

	"TradeCore/pkg/util"
)

// Lightweight TA helpers over raw sample slices. All functions return the
// latest value only; the classifier keeps the rolling windows.

// SMA returns the n-period simple moving average of the tail of xs.
func SMA(xs []float64, n int) float64 {
	if n <= 0 || len(xs) < n {
		return 0
	}
	return util.Mean(xs[len(xs)-n:])
}

// EMASeries returns the n-period exponential moving average aligned to xs.
// The first value seeds the average.
func EMASeries(xs []float64, n int) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 || n <= 0 {
		return out
	}
	alpha := 2.0 / (float64(n) + 1)
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = util.EMAStep(out[i-1], xs[i], alpha)
	}
	return out
}

// RSI returns the latest n-period Relative Strength Index using Wilder's
// smoothing, or 50 (neutral) with insufficient data.
func RSI(prices []float64, n int) float64 {
	if n <= 0 || len(prices) < n+1 {
		return 50
	}
	var gain, loss float64
	for i := 1; i <= n; i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	for i := n + 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		up, down := 0.0, 0.0
		if d > 0 {
			up = d
		} else {
			down = -d
		}
		avgGain = (avgGain*float64(n-1) + up) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + down) / float64(n)
	}
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ADX returns the latest n-period Average Directional Index from true range
// and directional movement, Wilder smoothed. 0 with insufficient data.
func ADX(highs, lows, closes []float64, n int) float64 {
	m := len(closes)
	if n <= 0 || m < 2*n+1 || len(highs) != m || len(lows) != m {
		return 0
	}
	trs := make([]float64, 0, m-1)
	plusDM := make([]float64, 0, m-1)
	minusDM := make([]float64, 0, m-1)
	for i := 1; i < m; i++ {
		tr := math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		trs = append(trs, tr)
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM = append(plusDM, up)
		} else {
			plusDM = append(plusDM, 0)
		}
		if down > up && down > 0 {
			minusDM = append(minusDM, down)
		} else {
			minusDM = append(minusDM, 0)
		}
	}

	sTR := sum(trs[:n])
	sPlus := sum(plusDM[:n])
	sMinus := sum(minusDM[:n])
	adx := 0.0
	dxCount := 0
	for i := n; i <= len(trs); i++ {
		dx := directionalIndex(sTR, sPlus, sMinus)
		if dxCount == 0 {
			adx = dx
		} else {
			// Wilder smoothing of DX
			adx = (adx*float64(n-1) + dx) / float64(n)
		}
		dxCount++
		if i == len(trs) {
			break
		}
		sTR = sTR - sTR/float64(n) + trs[i]
		sPlus = sPlus - sPlus/float64(n) + plusDM[i]
		sMinus = sMinus - sMinus/float64(n) + minusDM[i]
	}
	return adx
}

func directionalIndex(sTR, sPlus, sMinus float64) float64 {
	if sTR == 0 {
		return 0
	}
	diPlus := 100 * sPlus / sTR
	diMinus := 100 * sMinus / sTR
	if diPlus+diMinus == 0 {
		return 0
	}
	return 100 * math.Abs(diPlus-diMinus) / (diPlus + diMinus)
}

// Bollinger returns the n-period middle band and mean ± k·σ bounds.
func Bollinger(prices []float64, n int, k float64) (middle, upper, lower float64) {
	if n <= 1 || len(prices) < n {
		return 0, 0, 0
	}
	tail := prices[len(prices)-n:]
	middle = util.Mean(tail)
	sigma := util.StdDev(tail)
	return middle, middle + k*sigma, middle - k*sigma
}

func sum(xs []float64) float64 {
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s
}
