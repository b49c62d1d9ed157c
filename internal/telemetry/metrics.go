// Package telemetry exposes Prometheus metrics for the bot. A nil *Metrics
// is valid and records nothing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	LastBlock         prometheus.Gauge
	NextDecisionBlock prometheus.Gauge
	LedgerTrades      prometheus.Gauge
	TradesIngested    prometheus.Counter
	Cycles            *prometheus.CounterVec
	Decisions         *prometheus.CounterVec
	Orders            *prometheus.CounterVec
	AgentLatency      prometheus.Histogram
	PairLastPrice     *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cowtrader_last_block",
			Help: "Most recent block handled",
		}),
		NextDecisionBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cowtrader_next_decision_block",
			Help: "Block at which the next decision may be made",
		}),
		LedgerTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cowtrader_ledger_trades",
			Help: "Trade records in the ledger at the last decision",
		}),
		TradesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cowtrader_trades_ingested_total",
			Help: "Settlement trades appended to the ledger",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cowtrader_cycles_total",
			Help: "Block cycles by outcome",
		}, []string{"outcome"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cowtrader_decisions_total",
			Help: "Recorded decisions by should_trade and validity",
		}, []string{"should_trade", "valid"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cowtrader_orders_total",
			Help: "Order pipeline results by final stage",
		}, []string{"result"}),
		AgentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cowtrader_agent_latency_seconds",
			Help:    "Decision agent round-trip time",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60},
		}),
		PairLastPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cowtrader_pair_last_price",
			Help: "Last price per canonical pair (token_b per token_a)",
		}, []string{"pair"}),
	}
	reg.MustRegister(
		m.LastBlock, m.NextDecisionBlock, m.LedgerTrades, m.TradesIngested,
		m.Cycles, m.Decisions, m.Orders, m.AgentLatency, m.PairLastPrice,
	)
	return m
}

func (m *Metrics) ObserveBlock(block, next uint64) {
	if m == nil {
		return
	}
	m.LastBlock.Set(float64(block))
	m.NextDecisionBlock.Set(float64(next))
}

func (m *Metrics) Cycle(outcome string) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Ingested(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TradesIngested.Add(float64(n))
}

func (m *Metrics) LedgerSize(n int) {
	if m == nil {
		return
	}
	m.LedgerTrades.Set(float64(n))
}

func (m *Metrics) Decision(shouldTrade, valid bool) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(boolLabel(shouldTrade), boolLabel(valid)).Inc()
}

func (m *Metrics) Order(result string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(result).Inc()
}

func (m *Metrics) AgentCall(d time.Duration) {
	if m == nil {
		return
	}
	m.AgentLatency.Observe(d.Seconds())
}

func (m *Metrics) PairPrice(pair string, price float64) {
	if m == nil {
		return
	}
	m.PairLastPrice.WithLabelValues(pair).Set(price)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
