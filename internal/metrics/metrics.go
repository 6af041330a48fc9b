// Package metrics exposes the dispatch path to prometheus. Collectors pull
// from the dispatcher's stat counters on scrape, so the hot path never
// touches prometheus directly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/telltale/internal/dispatch"
)

// Source is the slice of the dispatcher the collectors read from.
type Source interface {
	Stats() dispatch.Stats
}

// Registry owns the prometheus registry for one daemon.
type Registry struct {
	prom *prometheus.Registry
}

// New registers dispatch collectors plus Go runtime and process collectors.
func New(src Source) *Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, read func(dispatch.Stats) uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "telltale",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(src.Stats())) })
	}
	gauge := func(name, help string, read func(dispatch.Stats) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "telltale",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(read(src.Stats())) })
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		counter("admitted_get_requests_total", "Get requests admitted into the pending pool",
			func(s dispatch.Stats) uint64 { return s.AdmittedGets }),
		counter("admitted_set_requests_total", "Set requests admitted into the pending pool",
			func(s dispatch.Stats) uint64 { return s.AdmittedSets }),
		counter("rejected_batches_total", "Batches rejected synchronously",
			func(s dispatch.Stats) uint64 { return s.RejectedBatches }),
		counter("delivered_results_total", "Results delivered through client callbacks",
			func(s dispatch.Stats) uint64 { return s.DeliveredResults }),
		counter("timed_out_requests_total", "Requests resolved as TRY_AGAIN by the deadline timer",
			func(s dispatch.Stats) uint64 { return s.TimedOutRequests }),

		gauge("pending_requests", "Admitted requests awaiting resolution",
			func(s dispatch.Stats) int { return s.PendingRequests }),
		gauge("clients", "Distinct client callbacks seen, get and set counted separately",
			func(s dispatch.Stats) int { return s.Clients }),
	)

	return &Registry{prom: reg}
}

// Prometheus returns the underlying registry for tests and custom gatherers.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.prom
}

// Handler returns the scrape endpoint handler.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}
