package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaos_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	residualSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_residual_samples_total",
			Help: "Residual samples processed, by evaluation method.",
		},
		[]string{"method"},
	)

	residualBatchSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaos_residual_batch_duration_seconds",
			Help:    "Residual batch duration in seconds.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"complete"},
	)

	tracesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_traces_total",
			Help: "Field-line traces by outcome.",
		},
		[]string{"outcome"},
	)

	traceSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chaos_trace_steps",
			Help:    "Accepted integration steps per field-line trace.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)

	traceRejectedStepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chaos_trace_rejected_steps_total",
			Help: "Integration steps rejected for crossing an altitude bound.",
		},
	)

	traceDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chaos_trace_duration_seconds",
			Help:    "Field-line trace duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	interpolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_model_interpolations_total",
			Help: "Coefficient interpolations by branch.",
		},
		[]string{"branch"},
	)

	modelCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_model_cache_hits_total",
		Help: "Model cache lookups served from memory.",
	})

	modelCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_model_cache_misses_total",
		Help: "Model cache lookups that required interpolation.",
	})

	modelCacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_model_cache_evictions_total",
		Help: "Models evicted from the cache.",
	})

	modelCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chaos_model_cache_entries",
		Help: "Interpolated models currently cached.",
	})

	traceWorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chaos_trace_workers_active",
		Help: "Goroutines tracing pixels.",
	})

	streamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaos_sweep_stream_events_total",
			Help: "Sweep stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chaos_sweep_streams_active",
		Help: "Open sweep streams.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chaos_sweep_stream_bytes_total",
		Help: "Bytes written to sweep streams.",
	})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		residualSamplesTotal,
		residualBatchSeconds,
		tracesTotal,
		traceSteps,
		traceRejectedStepsTotal,
		traceDurationSeconds,
		interpolationsTotal,
		modelCacheHits,
		modelCacheMisses,
		modelCacheEvictions,
		modelCacheEntries,
		traceWorkersActive,
		streamEventsTotal,
		streamsActive,
		streamBytesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordResiduals records one residual batch.
func RecordResiduals(duration time.Duration, exact, interpolated int, complete bool) {
	residualSamplesTotal.WithLabelValues("exact").Add(float64(exact))
	residualSamplesTotal.WithLabelValues("interpolated").Add(float64(interpolated))
	residualBatchSeconds.WithLabelValues(strconv.FormatBool(complete)).Observe(duration.Seconds())
}

// RecordTrace records one field-line trace. Outcome is "complete",
// "cancelled" or "failed".
func RecordTrace(duration time.Duration, steps, rejected int, outcome string) {
	tracesTotal.WithLabelValues(outcome).Inc()
	traceSteps.Observe(float64(steps))
	traceRejectedStepsTotal.Add(float64(rejected))
	traceDurationSeconds.Observe(duration.Seconds())
}

// RecordInterpolation counts a model interpolation by branch name.
func RecordInterpolation(branch string) {
	interpolationsTotal.WithLabelValues(branch).Inc()
}

func IncModelCacheHits()           { modelCacheHits.Inc() }
func IncModelCacheMisses()         { modelCacheMisses.Inc() }
func AddModelCacheEvictions(n int) { modelCacheEvictions.Add(float64(n)) }
func SetModelCacheEntries(n int)   { modelCacheEntries.Set(float64(n)) }

// SetTraceWorkersActive reports the size of the running pixel worker pool.
func SetTraceWorkersActive(n int) {
	traceWorkersActive.Set(float64(n))
}

// IncStreamEvent counts a sweep stream event: "connect", "disconnect",
// "rate_limit" or "send_error".
func IncStreamEvent(event string) { streamEventsTotal.WithLabelValues(event).Inc() }

func IncStreamsActive()      { streamsActive.Inc() }
func DecStreamsActive()      { streamsActive.Dec() }
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// knownRoutes are served paths kept verbatim as metric labels.
var knownRoutes = map[string]bool{
	"/healthz":        true,
	"/readyz":         true,
	"/metrics":        true,
	"/api/v1/field":   true,
	"/api/v1/trace":   true,
	"/api/v1/sweep":   true,
	"/api/v1/model":   true,
	"/api/v1/cache":   true,
	"/api/v1/version": true,
}

// normalizeRoute maps a request path onto a bounded label set.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush and Unwrap keep streaming responses working through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
