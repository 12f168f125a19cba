package consensus

import (
	"strings"
	"time"

	"TradeCore/internal/domain/models"
	applogger "TradeCore/pkg/logger"
	"TradeCore/pkg/util"
)

const volatileConfidenceFloor = 0.7

// specializationBoost maps a regime to specialization keywords that earn
// a weight multiplier when they match the agent's declared focus.
var specializationBoost = map[models.Regime]map[string]float64{
	models.RegimeTrendingUp:   {"trend": 1.3, "momentum": 1.2},
	models.RegimeTrendingDown: {"trend": 1.3, "momentum": 1.2},
	models.RegimeRanging:      {"mean_reversion": 1.3, "range": 1.2},
	models.RegimeVolatile:     {"volatility": 1.3, "risk": 1.2},
	models.RegimeCalm:         {"carry": 1.2, "mean_reversion": 1.1},
}

// effectiveWeight derives an agent's voting weight from its track record:
// base × (0.4·win + 0.4·return + 0.2·risk), bounded to [0.1, 3.0].
func effectiveWeight(p *models.AgentPerformance) float64 {
	winWeight := util.Clamp(p.WinRate*1.5+0.5, 0.5, 2)
	returnWeight := util.Clamp(p.AvgReturn*10+1, 0.1, 2)
	riskWeight := util.Clamp((1-p.MaxDrawdown)*1.5, 0.1, 2)
	return util.Clamp(p.BaseWeight*(0.4*winWeight+0.4*returnWeight+0.2*riskWeight), 0.1, 3.0)
}

// filterAndWeigh applies regime filtering and computes each surviving
// signal's effective weight. In a volatile regime low-confidence signals
// are dropped and the rest are discounted.
func (e *Engine) filterAndWeigh(signals []models.AgentSignal, reg *models.RegimeRecord) ([]models.AgentSignal, []float64) {
	volatile := reg != nil && reg.Regime == models.RegimeVolatile

	kept := make([]models.AgentSignal, 0, len(signals))
	weights := make([]float64, 0, len(signals))

	e.agentsMu.RLock()
	defer e.agentsMu.RUnlock()

	for _, s := range signals {
		if volatile && s.Confidence < volatileConfidenceFloor {
			continue
		}
		p, ok := e.agents[s.AgentID]
		if !ok {
			// agent deregistered between submit and vote
			continue
		}
		w := effectiveWeight(p)
		if volatile {
			w *= 0.8
		}
		if reg != nil {
			w *= specializationMultiplier(reg.Regime, p.Specialization)
		}
		kept = append(kept, s)
		weights = append(weights, w)
	}
	return kept, weights
}

func specializationMultiplier(regime models.Regime, specialization string) float64 {
	if specialization == "" {
		return 1
	}
	table, ok := specializationBoost[regime]
	if !ok {
		return 1
	}
	spec := strings.ToLower(specialization)
	mult := 1.0
	for keyword, m := range table {
		if strings.Contains(spec, keyword) && m > mult {
			mult = m
		}
	}
	return mult
}

// UpdatePerformanceFeedback folds a realized outcome back into every
// voter's performance record (EMA, α=0.1) and, once an agent has enough
// history, recomputes its stored voting weight.
func (e *Engine) UpdatePerformanceFeedback(result *models.ConsensusResult, outcome float64, regime models.Regime) {
	if result == nil || len(result.Voters) == 0 {
		return
	}
	e.agentsMu.Lock()
	defer e.agentsMu.Unlock()

	for _, voter := range result.Voters {
		p, ok := e.agents[voter.AgentID]
		if !ok {
			continue
		}
		correct := 0.0
		if result.Winning != nil && voter.Type == *result.Winning && voter.Confidence*outcome > 0 {
			correct = 1
		}
		p.WinRate = util.EMAStep(p.WinRate, correct, feedbackAlpha)
		p.AvgReturn = util.EMAStep(p.AvgReturn, voter.Confidence*voter.Strength*outcome, feedbackAlpha)
		p.ConfidenceAccuracy = util.EMAStep(p.ConfidenceAccuracy, 1-abs(voter.Confidence-correct), feedbackAlpha)
		if regime != "" && regime != models.RegimeUnknown {
			prev, seen := p.RegimeWinRate[regime]
			if !seen {
				prev = 0.5
			}
			p.RegimeWinRate[regime] = util.EMAStep(prev, correct, feedbackAlpha)
		}
		p.TotalDecisions++
		p.LastUpdated = time.Now()

		if p.TotalDecisions >= reweightMinVotes {
			p.Weight = effectiveWeight(p)
			if e.metrics != nil {
				e.metrics.RecordAgentWeight(p.AgentID, p.Weight)
			}
		}
	}
	e.l.Debug("performance feedback applied",
		applogger.String("instrument", result.Instrument),
		applogger.Int("voters", len(result.Voters)),
		applogger.Float64("outcome", outcome),
	)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
