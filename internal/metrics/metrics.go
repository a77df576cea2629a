// Package metrics exposes Prometheus instrumentation for LeadPulse.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpulse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadpulse_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	messagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpulse_messages_sent_total",
			Help: "Total number of outbound send attempts",
		},
		[]string{"status"},
	)

	inboundMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadpulse_inbound_messages_total",
			Help: "Total number of inbound messages processed",
		},
	)

	generationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadpulse_generation_failures_total",
			Help: "Total number of failed reply generations",
		},
	)

	stateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadpulse_state_transitions_total",
			Help: "Total number of conversation state transitions",
		},
		[]string{"from", "to"},
	)
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and durations for every route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// RecordMessageSent counts one outbound send attempt by outcome,
// "delivered" or "failed".
func RecordMessageSent(status string) {
	messagesSent.WithLabelValues(status).Inc()
}

// RecordInboundMessage counts one processed inbound message.
func RecordInboundMessage() {
	inboundMessages.Inc()
}

// RecordGenerationFailure counts one failed reply generation.
func RecordGenerationFailure() {
	generationFailures.Inc()
}

// RecordStateTransition counts one state change.
func RecordStateTransition(from, to string) {
	stateTransitions.WithLabelValues(from, to).Inc()
}
