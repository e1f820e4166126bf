package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "liq_reaction_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
	}
	p.Metrics = &Metrics{
		LiquidationsDetected: p.counter("liquidations_detected_total", "Total number of liquidations inserted into the ledger."),
		LiquidationsEvicted:  p.counter("liquidations_evicted_total", "Total number of liquidations evicted by age."),
		PendingCreated:       p.counter("pending_created_total", "Total number of pending entries created."),
		PendingCancelled:     p.counter("pending_cancelled_total", "Total number of pending entries cancelled or expired."),
		EntriesTriggered:     p.counter("entries_triggered_total", "Total number of pending entries triggered."),
		OrdersPlaced:         p.counter("orders_placed_total", "Total number of orders placed."),
		OrdersFailed:         p.counter("orders_failed_total", "Total number of order placement failures."),
		TakeProfitsPlaced:    p.counter("take_profits_placed_total", "Total number of deferred take-profit orders placed."),
		TakeProfitsFailed:    p.counter("take_profits_failed_total", "Total number of deferred take-profit placement failures."),
		StaleEntriesCanceled: p.counter("stale_entries_cancelled_total", "Total number of unfilled two-leg entries cancelled after the closed-order lookback."),
		TickFailures:         p.counter("tick_failures_total", "Total number of scheduled actions that failed."),
		LedgerSize:           p.gauge("ledger_size", "Live liquidations awaiting a reaction."),
		PendingEntries:       p.gauge("pending_entries", "Pending entries awaiting a trigger."),
		PendingTakeProfits:   p.gauge("pending_take_profits", "Entries whose take-profit leg is deferred."),
		PositionSize:         p.gauge("position_size", "Most recent computed position size of the primary overlay."),
	}
	return p
}

func (p *Prometheus) counter(name, help string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(c)
	p.counters[name] = c
	return promCounter{c}
}

func (p *Prometheus) gauge(name, help string) Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
	p.registry.MustRegister(g)
	p.gauges[name] = g
	return promGauge{g}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
