// Package metrics exposes Prometheus collectors for the generator service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	instance *Metrics
)

type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	QuotaRejections    prometheus.Counter
	AbandonedSwept     prometheus.Counter

	PaymentsTotal *prometheus.CounterVec
	OTPEvents     *prometheus.CounterVec
}

// Get returns the process-wide collectors.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code",
	}, []string{"route", "method", "status"})

	m.HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sitegen",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"route", "method"})

	m.GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen",
		Subsystem: "generation",
		Name:      "total",
		Help:      "Generation requests by terminal status",
	}, []string{"status"})

	m.GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sitegen",
		Subsystem: "generation",
		Name:      "duration_seconds",
		Help:      "Time from opening a generation record to its terminal state",
		Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 90, 120},
	})

	m.QuotaRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sitegen",
		Subsystem: "quota",
		Name:      "rejections_total",
		Help:      "Generation requests rejected for lack of quota",
	})

	m.AbandonedSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sitegen",
		Subsystem: "generation",
		Name:      "abandoned_swept_total",
		Help:      "Pending records failed by the abandonment sweep",
	})

	m.PaymentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen",
		Subsystem: "payments",
		Name:      "events_total",
		Help:      "Payment ledger events by kind and plan",
	}, []string{"event", "plan"})

	m.OTPEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sitegen",
		Subsystem: "otp",
		Name:      "events_total",
		Help:      "OTP issue and verification outcomes",
	}, []string{"event"})

	return m
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency per chi route pattern.
func Middleware(next http.Handler) http.Handler {
	m := Get()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
