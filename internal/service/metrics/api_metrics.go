package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// APIMetrics tracks latency and errors of the grid and observation endpoints.
type APIMetrics struct {
	latency *prometheus.HistogramVec
	errors  *prometheus.CounterVec
}

func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &APIMetrics{
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gridwatch",
				Subsystem: "api",
				Name:      "latency_seconds",
				Help:      "Latency of grid and observation endpoints",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gridwatch",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Errors by endpoint",
			},
			[]string{"endpoint"},
		),
	}
}

// Since records the latency of endpoint measured from start.
func (m *APIMetrics) Since(endpoint string, start time.Time) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func (m *APIMetrics) Error(endpoint string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(endpoint).Inc()
}
