package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	votesTotal     *prometheus.CounterVec
	regimeSamples  *prometheus.CounterVec
	agentWeight    *prometheus.GaugeVec
	positionSize   *prometheus.HistogramVec
	exitsTotal     *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	ticksProcessed *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		votesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_votes_total",
				Help: "Consensus votes conducted, labeled by outcome",
			},
			[]string{"instrument", "consensus"},
		),
		regimeSamples: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_regime_samples_total",
				Help: "Regime classifications emitted per instrument",
			},
			[]string{"instrument", "regime"},
		),
		agentWeight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradecore_agent_weight",
				Help: "Current effective voting weight per agent",
			},
			[]string{"agent"},
		),
		positionSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradecore_position_size",
				Help:    "Final position sizes as portfolio fractions",
				Buckets: []float64{0.005, 0.01, 0.02, 0.03, 0.05, 0.075, 0.1},
			},
			[]string{"instrument"},
		),
		exitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_exits_total",
				Help: "Exit signals emitted, labeled by reason",
			},
			[]string{"instrument", "reason"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradecore_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ticksProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_ticks_processed_total",
				Help: "Market ticks consumed from the feed",
			},
			[]string{"instrument"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradecore_last_price",
				Help: "Last observed price per instrument",
			},
			[]string{"instrument"},
		),
	}
}

// RecordVote records one conducted vote and whether consensus was reached.
func (r *Recorder) RecordVote(instrument string, consensus bool) {
	outcome := "no_consensus"
	if consensus {
		outcome = "consensus"
	}
	r.votesTotal.WithLabelValues(instrument, outcome).Inc()
}

// RecordRegime records one emitted regime classification.
func (r *Recorder) RecordRegime(instrument, regime string) {
	r.regimeSamples.WithLabelValues(instrument, regime).Inc()
}

// RecordAgentWeight records an agent's current effective weight.
func (r *Recorder) RecordAgentWeight(agentID string, weight float64) {
	r.agentWeight.WithLabelValues(agentID).Set(weight)
}

// RecordPositionSize records a final position size.
func (r *Recorder) RecordPositionSize(instrument string, size float64) {
	r.positionSize.WithLabelValues(instrument).Observe(size)
}

// RecordExit records an emitted exit signal.
func (r *Recorder) RecordExit(instrument, reason string) {
	r.exitsTotal.WithLabelValues(instrument, reason).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordTick records one consumed market tick and its price.
func (r *Recorder) RecordTick(instrument string, price float64) {
	r.ticksProcessed.WithLabelValues(instrument).Inc()
	r.lastPrice.WithLabelValues(instrument).Set(price)
}
