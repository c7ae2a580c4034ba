// Package metrics exposes Prometheus counters for masking activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/colebrumley/cardmask/internal/mask"
)

const namespace = "cardmask"

// Metrics holds the collectors of one daemon. Each instance owns its own
// registry so tests and multiple daemons never collide.
type Metrics struct {
	registry     *prometheus.Registry
	bytes        *prometheus.CounterVec
	matches      prometheus.Counter
	digitsMasked prometheus.Counter
	runs         *prometheus.CounterVec
	duration     *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes passed through the masking engine.",
		}, []string{"direction"}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Valid card-number windows detected.",
		}),
		digitsMasked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "digits_masked_total",
			Help:      "Digits replaced with the mask symbol.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Job runs by final state.",
		}, []string{"job", "state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Job run duration.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"job"}),
	}
	m.registry.MustRegister(m.bytes, m.matches, m.digitsMasked, m.runs, m.duration)
	return m
}

// ObserveStats adds one masking pass to the byte and match counters.
func (m *Metrics) ObserveStats(s mask.Stats) {
	m.bytes.WithLabelValues("in").Add(float64(s.BytesIn))
	m.bytes.WithLabelValues("out").Add(float64(s.BytesOut))
	m.matches.Add(float64(s.Matches))
	m.digitsMasked.Add(float64(s.DigitsMasked))
}

// ObserveRun records a finished job run.
func (m *Metrics) ObserveRun(job, state string, d time.Duration) {
	m.runs.WithLabelValues(job, state).Inc()
	m.duration.WithLabelValues(job).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
