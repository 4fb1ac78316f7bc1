package middleware

import (
	"strconv"
	"time"

	applogger "GridWatch/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type httpCollectors struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	size     *prometheus.HistogramVec
}

func newHTTPCollectors(reg prometheus.Registerer) *httpCollectors {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &httpCollectors{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gridwatch_http_requests_total",
			Help: "HTTP requests by route, method and status class",
		}, []string{"route", "method", "class"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridwatch_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"route", "method"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "gridwatch_http_in_flight_requests",
			Help: "Requests currently being served",
		}),
		size: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gridwatch_http_response_size_bytes",
			Help:    "HTTP response size",
			Buckets: prometheus.ExponentialBuckets(128, 4, 8),
		}, []string{"route"}),
	}
}

// Instrument records request metrics labelled by the matched route template
// and logs every request at debug level. Server errors are logged as errors
// and requests slower than slow as warnings; slow <= 0 disables the latter.
func Instrument(reg prometheus.Registerer, l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	m := newHTTPCollectors(reg)
	if l == nil {
		l = applogger.Nop()
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.inFlight.Inc()
			defer m.inFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				// Let Echo write the error response so the status is final
				c.Error(err)
			}
			took := time.Since(start)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			req, res := c.Request(), c.Response()
			class := strconv.Itoa(res.Status/100) + "xx"

			m.requests.WithLabelValues(route, req.Method, class).Inc()
			m.duration.WithLabelValues(route, req.Method).Observe(took.Seconds())
			m.size.WithLabelValues(route).Observe(float64(res.Size))

			fields := []applogger.Field{
				applogger.String("method", req.Method),
				applogger.String("route", route),
				applogger.String("uri", req.RequestURI),
				applogger.Int("status", res.Status),
				applogger.Int64("bytes", res.Size),
				applogger.Duration("took", took),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request failed", append(fields, applogger.Error(err))...)
			case slow > 0 && took >= slow:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return nil
		}
	}
}
