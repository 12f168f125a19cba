package exits

import (
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/pkg/util"
)

// defaultLadder is the base partial-exit schedule: a quarter of the
// position at each profit rung.
var defaultLadder = []struct {
	fraction float64
	target   float64
}{
	{0.25, 0.005},
	{0.25, 0.010},
	{0.25, 0.020},
	{0.25, 0.050},
}

const (
	trendTargetStretch   = 1.2 // extend targets in a directional market
	volatileTargetShrink = 0.8 // take profits sooner in chop
	volatileTrailLoosen  = 1.3
	sizeRescaleCap       = 0.1
)

// buildLadder adapts the default ladder to the entry regime and lightly
// rescales targets with position size: bigger positions are given more
// room so partial exits ladder out rather than fire at once.
func buildLadder(size float64, reg *models.RegimeRecord, levelTimeLimit time.Duration) []models.ExitLevel {
	targetScale := 1.0
	trailScale := 1.0
	if reg != nil {
		switch {
		case reg.Regime.IsTrending():
			targetScale = trendTargetStretch
		case reg.Regime == models.RegimeVolatile:
			targetScale = volatileTargetShrink
			trailScale = volatileTrailLoosen
		}
	}
	targetScale *= 1 + util.Clamp((size-1)/10, 0, sizeRescaleCap)

	levels := make([]models.ExitLevel, 0, len(defaultLadder))
	for _, rung := range defaultLadder {
		target := rung.target * targetScale
		levels = append(levels, models.ExitLevel{
			Fraction:         rung.fraction,
			ProfitTarget:     target,
			TrailingDistance: target * 0.5 * trailScale,
			TimeLimit:        levelTimeLimit,
		})
	}
	return levels
}

// emergencyStopPrice places the hard loss limit on the losing side of
// the entry, wider when the market is volatile.
func emergencyStopPrice(entry float64, side models.Side, reg *models.RegimeRecord, basePct float64) float64 {
	pct := basePct
	if reg != nil && reg.Regime == models.RegimeVolatile {
		pct *= 1.4
	}
	if side == models.SideLong {
		return entry * (1 - pct)
	}
	return entry * (1 + pct)
}
