// Package metrics exposes per-stage Prometheus counters and latencies.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/digestpipe/internal/pipeline"
)

// Metrics holds the pipeline collectors on a private registry.
type Metrics struct {
	registry    *prometheus.Registry
	records     *prometheus.CounterVec
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "digestpipe",
			Name:      "records_total",
			Help:      "Records handled per stage by final status.",
		}, []string{"stage", "status"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "digestpipe",
			Name:      "invocations_total",
			Help:      "Stage invocations by result (ok, transient, malformed, logic_fault, error).",
		}, []string{"stage", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "digestpipe",
			Name:      "invocation_duration_seconds",
			Help:      "Stage invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		m.records,
		m.invocations,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveReport implements pipeline.Observer.
func (m *Metrics) ObserveReport(report pipeline.Report, err error, elapsedSeconds float64) {
	counts := map[pipeline.Status]int{
		pipeline.StatusSucceeded: report.Succeeded(),
		pipeline.StatusDropped:   report.Dropped(),
		pipeline.StatusFailed:    report.Failed(),
	}
	for status, n := range counts {
		if n > 0 {
			m.records.WithLabelValues(report.Stage, status.String()).Add(float64(n))
		}
	}

	m.invocations.WithLabelValues(report.Stage, resultLabel(err)).Inc()
	m.duration.WithLabelValues(report.Stage).Observe(elapsedSeconds)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case pipeline.IsTransient(err):
		return "transient"
	case pipeline.IsMalformed(err):
		return "malformed"
	case pipeline.IsLogicFault(err):
		return "logic_fault"
	default:
		return "error"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
