// Package metrics exposes engine events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// Prometheus implements ports.Metrics.
type Prometheus struct {
	transitions *prometheus.CounterVec
	placed      *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	merges      prometheus.Counter
	pnl         *prometheus.CounterVec
	errors      *prometheus.CounterVec
	feedDrops   prometheus.Counter

	pairs    *prometheus.GaugeVec
	profit   prometheus.Gauge
	fillRate prometheus.Gauge
	deployed prometheus.Gauge
}

// NewPrometheus registers the metrics on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mintmaker_pair_transitions_total",
			Help: "Pair status transitions by edge",
		}, []string{"from", "to"}),
		placed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mintmaker_orders_placed_total",
			Help: "Orders accepted by the venue",
		}, []string{"side"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mintmaker_placements_rejected_total",
			Help: "Candidate pairs not placed, by reason",
		}, []string{"reason"}),
		merges: f.NewCounter(prometheus.CounterOpts{
			Name: "mintmaker_merges_submitted_total",
			Help: "Merge transactions submitted",
		}),
		pnl: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mintmaker_realized_pnl_events_total",
			Help: "Realized profit and loss events by kind and sign",
		}, []string{"kind", "sign"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mintmaker_errors_total",
			Help: "Errors by class",
		}, []string{"class"}),
		feedDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "mintmaker_feed_disconnects_total",
			Help: "Websocket feed disconnects",
		}),
		pairs: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mintmaker_pairs",
			Help: "Pairs by status",
		}, []string{"status"}),
		profit: f.NewGauge(prometheus.GaugeOpts{
			Name: "mintmaker_total_profit_usdc",
			Help: "Realized profit over merged, stop-loss and settled pairs",
		}),
		fillRate: f.NewGauge(prometheus.GaugeOpts{
			Name: "mintmaker_fill_rate",
			Help: "Share of pairs that reached Matched or beyond",
		}),
		deployed: f.NewGauge(prometheus.GaugeOpts{
			Name: "mintmaker_deployed_usdc",
			Help: "Capital committed to non-terminal pairs",
		}),
	}
}

func (p *Prometheus) PairTransition(from, to domain.PairStatus) {
	p.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (p *Prometheus) OrderPlaced(side domain.OrderSide) {
	p.placed.WithLabelValues(string(side)).Inc()
}

func (p *Prometheus) PlacementRejected(reason string) {
	p.rejected.WithLabelValues(reason).Inc()
}

func (p *Prometheus) MergeSubmitted() { p.merges.Inc() }

// RealizedPnL counts events by sign; the running total is published by
// SetStats from the pairs themselves.
func (p *Prometheus) RealizedPnL(kind domain.LogKind, amount decimal.Decimal) {
	sign := "zero"
	switch {
	case amount.IsPositive():
		sign = "gain"
	case amount.IsNegative():
		sign = "loss"
	}
	p.pnl.WithLabelValues(string(kind), sign).Inc()
}

func (p *Prometheus) Error(class domain.ErrorClass) {
	if class == domain.ClassNone {
		return
	}
	p.errors.WithLabelValues(string(class)).Inc()
}

func (p *Prometheus) FeedDropped() { p.feedDrops.Inc() }

func (p *Prometheus) SetStats(s domain.StatsSnapshot) {
	for st, n := range s.ByStatus {
		p.pairs.WithLabelValues(string(st)).Set(float64(n))
	}
	p.profit.Set(s.TotalProfit.InexactFloat64())
	p.fillRate.Set(s.FillRate.InexactFloat64())
	p.deployed.Set(s.Deployed.InexactFloat64())
}
