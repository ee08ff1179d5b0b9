package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	storedSessions      prometheus.Gauge
	activeContexts      prometheus.Gauge
	sessionLoadDuration *prometheus.HistogramVec
	sessionSaveDuration *prometheus.HistogramVec
	sessionSaveErrors   *prometheus.CounterVec
	malformedRecords    *prometheus.CounterVec

	translationTotal    *prometheus.CounterVec
	translationDuration *prometheus.HistogramVec
	completionErrors    *prometheus.CounterVec
	contextTokens       prometheus.Histogram
	historyTrimmed      prometheus.Counter

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	gatewayClients      prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			storedSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "novellama_stored_sessions",
					Help: "Number of session records in the store.",
				},
			),
			activeContexts: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "novellama_active_contexts",
					Help: "Number of session contexts held in memory.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "novellama_session_load_duration_seconds",
					Help:    "Session record load duration in seconds by backend.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend"},
			),
			sessionSaveDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "novellama_session_save_duration_seconds",
					Help:    "Session record save duration in seconds by backend.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend"},
			),
			sessionSaveErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "novellama_session_save_errors_total",
					Help: "Failed session record saves by backend.",
				},
				[]string{"backend"},
			),
			malformedRecords: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "novellama_session_malformed_records_total",
					Help: "Stored session records that failed to decode and were treated as empty.",
				},
				[]string{"backend"},
			),
			translationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "novellama_translations_total",
					Help: "Translation requests by provider and status.",
				},
				[]string{"provider", "status"},
			),
			translationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "novellama_completion_duration_seconds",
					Help:    "Completion call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			completionErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "novellama_completion_errors_total",
					Help: "Completion failures by provider and upstream status code.",
				},
				[]string{"provider", "code"},
			),
			contextTokens: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "novellama_context_tokens",
					Help:    "Token total of the retained context after each translation.",
					Buckets: prometheus.ExponentialBuckets(64, 2, 12),
				},
			),
			historyTrimmed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "novellama_history_entries_trimmed_total",
					Help: "History entries dropped by the context-size policy.",
				},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "novellama_http_requests_total",
					Help: "HTTP API requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "novellama_http_request_duration_seconds",
					Help:    "HTTP API request duration in seconds by route.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"route"},
			),
			gatewayClients: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "novellama_gateway_clients",
					Help: "Connected gateway WebSocket clients.",
				},
			),
		}

		prometheus.MustRegister(
			m.storedSessions,
			m.activeContexts,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.sessionSaveErrors,
			m.malformedRecords,
			m.translationTotal,
			m.translationDuration,
			m.completionErrors,
			m.contextTokens,
			m.historyTrimmed,
			m.httpRequestsTotal,
			m.httpRequestDuration,
			m.gatewayClients,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetStoredSessions(count int) {
	getMetrics().storedSessions.Set(float64(count))
}

func SetActiveContexts(count int) {
	getMetrics().activeContexts.Set(float64(count))
}

func RecordSessionLoad(backend string, duration time.Duration) {
	getMetrics().sessionLoadDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

func RecordSessionSave(backend string, duration time.Duration, success bool) {
	m := getMetrics()
	m.sessionSaveDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if !success {
		m.sessionSaveErrors.WithLabelValues(backend).Inc()
	}
}

func RecordMalformedRecord(backend string) {
	getMetrics().malformedRecords.WithLabelValues(backend).Inc()
}

// RecordTranslation records one translate call. statusCode is the upstream
// HTTP status on failure, or 0 when the failure had none.
func RecordTranslation(provider string, duration time.Duration, success bool, statusCode int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.translationTotal.WithLabelValues(provider, status).Inc()
	m.translationDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if !success {
		m.completionErrors.WithLabelValues(provider, strconv.Itoa(statusCode)).Inc()
	}
}

func RecordContextSize(tokens int, trimmed int) {
	m := getMetrics()
	m.contextTokens.Observe(float64(tokens))
	if trimmed > 0 {
		m.historyTrimmed.Add(float64(trimmed))
	}
}

func RecordHTTPRequest(route string, statusCode int, duration time.Duration) {
	m := getMetrics()
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func SetGatewayClients(count int) {
	getMetrics().gatewayClients.Set(float64(count))
}
