// Package metrics records operational metrics with Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the TKG collectors. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	errorsTotal     *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	barsIngested    prometheus.Counter
	regenerated     prometheus.Counter
	labelsDiscarded prometheus.Counter
	labelsWritten   *prometheus.CounterVec
	llmRequests     *prometheus.CounterVec
	llmLatency      *prometheus.HistogramVec
}

// New creates a recorder on its own registry
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tkg_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tkg_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		barsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "tkg_bars_ingested_total",
			Help: "Raw bars written to the store",
		}),
		regenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "tkg_observations_regenerated_total",
			Help: "Observations written by chain regeneration",
		}),
		labelsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "tkg_labels_discarded_total",
			Help: "Semantic labels removed by chain regeneration",
		}),
		labelsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tkg_labels_written_total",
				Help: "Semantic labels written by enrichment",
			},
			[]string{"category"},
		),
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tkg_llm_requests_total",
				Help: "Model requests by outcome",
			},
			[]string{"provider", "op", "status"},
		),
		llmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tkg_llm_request_duration_seconds",
				Help:    "Model request duration in seconds, retries included",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
			},
			[]string{"provider", "op"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// RecordError records an error occurrence
func (r *Recorder) RecordError(kind string) {
	if r == nil {
		return
	}
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency
func (r *Recorder) RecordLatency(op string, d time.Duration) {
	if r == nil {
		return
	}
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordBarsIngested counts written raw bars
func (r *Recorder) RecordBarsIngested(n int) {
	if r == nil {
		return
	}
	r.barsIngested.Add(float64(n))
}

// RecordRegenerate counts observations written and labels discarded
func (r *Recorder) RecordRegenerate(observations, labelsDiscarded int64) {
	if r == nil {
		return
	}
	r.regenerated.Add(float64(observations))
	r.labelsDiscarded.Add(float64(labelsDiscarded))
}

// RecordLabelsWritten counts labels written for a category
func (r *Recorder) RecordLabelsWritten(category string, n int) {
	if r == nil {
		return
	}
	r.labelsWritten.WithLabelValues(category).Add(float64(n))
}

// ObserveLLM records one model request
func (r *Recorder) ObserveLLM(provider, op string, d time.Duration, err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.llmRequests.WithLabelValues(provider, op, status).Inc()
	r.llmLatency.WithLabelValues(provider, op).Observe(d.Seconds())
}
