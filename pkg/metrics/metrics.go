// Package metrics wires corpusd's pipeline and provider instrumentation onto
// github.com/prometheus/client_golang, replacing the hand-rolled exposition
// registry the teacher shipped with the ecosystem-standard library.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups every metric corpusd exposes under one prometheus.Registerer
// so cmd/corpusd can mount a single /metrics handler.
type Registry struct {
	reg *prometheus.Registry

	DiscoveredTotal prometheus.Counter
	FetchedTotal    prometheus.Counter
	AnalyzedTotal   prometheus.Counter
	PersistedTotal  prometheus.Counter
	ErrorsTotal     *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec

	QueueDepth      *prometheus.GaugeVec
	StageDuration   *prometheus.HistogramVec
	ProviderLatency *prometheus.HistogramVec

	RunState prometheus.Gauge
}

// New creates a Registry with every pipeline and provider metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		DiscoveredTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_discovered_papers_total",
			Help: "Paper ids yielded by the discovery frontier.",
		}),
		FetchedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_fetched_papers_total",
			Help: "Papers whose metadata was successfully fetched.",
		}),
		AnalyzedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_analyzed_papers_total",
			Help: "Papers that completed the analyzer stage (possibly partial).",
		}),
		PersistedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_persisted_papers_total",
			Help: "Paper nodes whose enrichment has reached the graph store.",
		}),
		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corpusd_errors_total",
			Help: "Errors recorded by the pipeline, tagged by kind.",
		}, []string{"kind", "stage"}),
		RetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "corpusd_provider_retries_total",
			Help: "Retries issued by the rate-limited client, tagged by provider and error kind.",
		}, []string{"provider", "kind"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "corpusd_queue_depth",
			Help: "Current occupancy of a pipeline stage's bounded queue.",
		}, []string{"queue"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpusd_stage_duration_seconds",
			Help:    "Per-item processing duration within a pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corpusd_provider_latency_seconds",
			Help:    "Latency of an outbound provider call.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "op"}),
		RunState: f.NewGauge(prometheus.GaugeOpts{
			Name: "corpusd_run_state",
			Help: "Numeric encoding of the current run state machine value.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveStage records how long a pipeline stage took to process one item.
func (r *Registry) ObserveStage(stage string, start time.Time) {
	r.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ObserveProviderCall records the latency of one outbound provider call.
func (r *Registry) ObserveProviderCall(provider, op string, start time.Time) {
	r.ProviderLatency.WithLabelValues(provider, op).Observe(time.Since(start).Seconds())
}
