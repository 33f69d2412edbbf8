package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the status surface.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Poll cycles by outcome (success, error, skipped). Watch for: sustained error ratio = station offline.
	PollCyclesTotal *prometheus.CounterVec

	// Poll cycle latency. Watch for: p95 near wakeup+read timeouts (sleepy console, lossy link).
	PollCycleDuration *prometheus.HistogramVec

	// Station errors by category (connect, wakeup, protocol, timeout, network).
	StationErrorsTotal *prometheus.CounterVec

	// Individual wakeup attempts by result. Watch for: failed/ok ratio creeping up.
	StationWakeupAttemptsTotal *prometheus.CounterVec

	// Decoded readings by outcome (published, suppressed by the wind direction sentinel).
	ReadingsTotal *prometheus.CounterVec

	// Publisher deliveries by publisher and status.
	PublishTotal *prometheus.CounterVec

	// Unix time of the last published reading. Watch for: staleness.
	LastReadingTimestamp prometheus.Gauge

	// Circuit breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState prometheus.Gauge

	// Circuit breaker transitions.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials on /latest.
	RateLimitDeniedTotal prometheus.Counter

	queueGaugeOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollCyclesTotal",
			Help: "Total number of station poll cycles by outcome",
		},
		[]string{"status"},
	)
	PollCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pollCycleDurationSeconds",
			Help:    "Station poll cycle latency in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 4, 8, 16},
		},
		[]string{"status"},
	)
	StationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationErrorsTotal",
			Help: "Station link errors by category",
		},
		[]string{"category"},
	)
	StationWakeupAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stationWakeupAttemptsTotal",
			Help: "Console wakeup attempts by result",
		},
		[]string{"result"},
	)
	ReadingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readingsTotal",
			Help: "Decoded readings by outcome (published, suppressed)",
		},
		[]string{"outcome"},
	)
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "publishTotal",
			Help: "Reading deliveries by publisher and status",
		},
		[]string{"publisher", "status"},
	)
	LastReadingTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lastReadingTimestampSeconds",
			Help: "Unix time of the most recently published reading",
		},
	)
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Poll circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Poll circuit breaker state transitions",
		},
		[]string{"from", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		PollCyclesTotal, PollCycleDuration,
		StationErrorsTotal, StationWakeupAttemptsTotal,
		ReadingsTotal, PublishTotal, LastReadingTimestamp,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterQueueDepth exposes the reading hand-off backlog. Only the first call registers.
func RegisterQueueDepth(depth func() int) {
	queueGaugeOnce.Do(func() {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "readingQueueDepth",
				Help: "Readings waiting between the poller and the publish dispatcher",
			},
			func() float64 { return float64(depth()) },
		))
	})
}

// RecordCircuitBreakerTransition counts a transition and updates the state gauge.
func RecordCircuitBreakerTransition(from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(from, to).Inc()
	CircuitBreakerState.Set(float64(toValue))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
