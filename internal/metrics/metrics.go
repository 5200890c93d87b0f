// Package metrics exposes exchange and HTTP metrics on a private Prometheus
// registry.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

const namespace = "curveswap"

// Metrics holds every collector. The zero value is not usable; call New.
type Metrics struct {
	registry *prometheus.Registry

	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	legs         *prometheus.CounterVec
	events       *prometheus.CounterVec
	pools        prometheus.Gauge

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Metrics with its own registry, including the process and Go
// runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "calls_total",
				Help:      "Total number of exchange calls by operation and result.",
			},
			[]string{"op", "result"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "call_duration_seconds",
				Help:      "Duration of exchange calls, lock wait included.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~800ms
			},
			[]string{"op"},
		),
		legs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "legs_total",
				Help:      "Router legs by direction and outcome.",
			},
			[]string{"direction", "outcome"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "exchange",
				Name:      "events_total",
				Help:      "Committed exchange events by type.",
			},
			[]string{"type"},
		),
		pools: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "factory",
				Name:      "pools",
				Help:      "Number of pools created by the factory.",
			},
		),
		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.calls,
		m.callDuration,
		m.legs,
		m.events,
		m.pools,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall records one exchange call. kind is "ok" or an error label.
func (m *Metrics) ObserveCall(op, kind string, d time.Duration) {
	m.calls.WithLabelValues(op, kind).Inc()
	m.callDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveLeg records the outcome of one router leg.
func (m *Metrics) ObserveLeg(direction domain.Direction, outcome domain.LegOutcome) {
	m.legs.WithLabelValues(string(direction), string(outcome)).Inc()
}

// ObserveEvents counts committed events by type.
func (m *Metrics) ObserveEvents(events []domain.Event) {
	for _, ev := range events {
		m.events.WithLabelValues(string(ev.Type)).Inc()
	}
}

// SetPools sets the pool count gauge.
func (m *Metrics) SetPools(n int) { m.pools.Set(float64(n)) }

// InstrumentHandler wraps next with HTTP metrics collection.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// CanonicalPath collapses addresses in a request path so label cardinality
// stays bounded: /api/pools/0xabc/quote becomes /api/pools/:addr/quote.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, "0x") || strings.HasPrefix(p, "0X") {
			parts[i] = ":addr"
		}
	}
	return "/" + strings.Join(parts, "/")
}
