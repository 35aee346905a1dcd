package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "option_scalp_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counters := make(map[string]prometheus.Counter)
	newCounter := func(name, help string) Counter {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(counter)
		counters[name] = counter
		return promCounter{counter}
	}

	m := &Metrics{
		OrdersPlaced:    newCounter("orders_placed_total", "Total number of hedge/scalp orders placed."),
		OrdersFailed:    newCounter("orders_failed_total", "Total number of order placement failures."),
		DeltaHedges:     newCounter("delta_hedges_total", "Total number of delta-hedge iterations executed."),
		GammaScalps:     newCounter("gamma_scalps_total", "Total number of gamma-scalp cycles executed."),
		OracleMisses:    newCounter("oracle_misses_total", "Total number of cycles with no resolvable fair value."),
		BudgetExhausted: newCounter("budget_exhausted_total", "Total number of hedge/scalp loops halted at their depth bound."),
		VenueFallbacks:  newCounter("venue_fallbacks_total", "Total number of cycles that fell back from perp to spot."),
		AggregatorSwaps: newCounter("aggregator_swaps_total", "Total number of hedges executed through the swap aggregator."),
		CyclesSkipped:   newCounter("cycles_skipped_total", "Total number of cycles skipped without order submission."),
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
		counters: counters,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
