package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheResult captures the outcome of a cache.Store.Get call.
type CacheResult string

const (
	CacheResultHit  CacheResult = "hit"
	CacheResultMiss CacheResult = "miss"
	CacheResultErr  CacheResult = "error"
)

// Recorder publishes Prometheus metrics for gateway activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	routeRequests *prometheus.CounterVec
	routeLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	invokerRequests *prometheus.CounterVec
	invokerLatency  *prometheus.HistogramVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	routeRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lambdagate",
		Subsystem: "route",
		Name:      "requests_total",
		Help:      "Total requests dispatched by the gateway, by lambda and status.",
	}, []string{"lambda", "status_code"})

	routeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lambdagate",
		Subsystem: "route",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"lambda"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lambdagate",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "CacheStore operations executed by CachedInvoker.",
	}, []string{"lambda", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lambdagate",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for CacheStore operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"lambda", "result"})

	invokerRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lambdagate",
		Subsystem: "invoker",
		Name:      "invocations_total",
		Help:      "Backend lambda invocations, by lambda and outcome.",
	}, []string{"lambda", "outcome"})

	invokerLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lambdagate",
		Subsystem: "invoker",
		Name:      "invocation_duration_seconds",
		Help:      "Latency distribution for backend lambda invocations.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"lambda"})

	reg.MustRegister(routeRequests, routeLatency, cacheOperations, cacheLatency, invokerRequests, invokerLatency)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		routeRequests:   routeRequests,
		routeLatency:    routeLatency,
		cacheOperations: cacheOperations,
		cacheLatency:    cacheLatency,
		invokerRequests: invokerRequests,
		invokerLatency:  invokerLatency,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and
// advanced integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveRequest records the outcome and latency of a completed request.
func (r *Recorder) ObserveRequest(lambda string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	lambdaLabel := normalizeLabel(lambda)
	statusLabel := strconv.Itoa(statusCode)
	if statusCode <= 0 {
		statusLabel = "unknown"
	}
	r.routeRequests.WithLabelValues(lambdaLabel, statusLabel).Inc()
	r.routeLatency.WithLabelValues(lambdaLabel).Observe(duration.Seconds())
}

// ObserveCache records the result of a CacheStore operation.
func (r *Recorder) ObserveCache(lambda string, result CacheResult, duration time.Duration) {
	if r == nil {
		return
	}
	resultLabel := string(result)
	if resultLabel == "" {
		resultLabel = string(CacheResultMiss)
	}
	lambdaLabel := normalizeLabel(lambda)
	r.cacheOperations.WithLabelValues(lambdaLabel, resultLabel).Inc()
	r.cacheLatency.WithLabelValues(lambdaLabel, resultLabel).Observe(duration.Seconds())
}

// ObserveInvocation records a backend lambda invocation.
func (r *Recorder) ObserveInvocation(lambda, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	lambdaLabel := normalizeLabel(lambda)
	outcomeLabel := normalizeLabel(outcome)
	r.invokerRequests.WithLabelValues(lambdaLabel, outcomeLabel).Inc()
	r.invokerLatency.WithLabelValues(lambdaLabel).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
