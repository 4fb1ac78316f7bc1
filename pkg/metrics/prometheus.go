package metrics

import (
	"GridWatch/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent   *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	latency        *prometheus.HistogramVec
	observations   *prometheus.CounterVec
	streamFailures *prometheus.CounterVec
	failureReports *prometheus.CounterVec
}

// New creates a recorder registered against reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridwatch_messages_sent_total",
				Help: "Total number of observations sent to backend",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridwatch_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gridwatch_last_price",
				Help: "Last observed price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gridwatch_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		observations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridwatch_observations_total",
				Help: "Classified ticker samples by direction",
			},
			[]string{"symbol", "direction"},
		),
		streamFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridwatch_stream_failures_total",
				Help: "Every subscribe or receive failure, reported or not",
			},
			[]string{"symbol"},
		),
		failureReports: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gridwatch_failure_reports_total",
				Help: "Failure runs surfaced to the reporter",
			},
			[]string{"symbol"},
		),
	}
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordObservation(symbol string, dir models.Direction) {
	r.observations.WithLabelValues(symbol, dir.String()).Inc()
}

func (r *Recorder) RecordStreamFailure(symbol string) {
	r.streamFailures.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordFailureReport(symbol string) {
	r.failureReports.WithLabelValues(symbol).Inc()
}
