// Package metrics exposes Prometheus instrumentation for the HTTP surface
// and the outreach pipeline.
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
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	emailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_emails_sent_total",
			Help: "Total number of outreach emails dispatched",
		},
		[]string{"provider", "outcome"},
	)

	eventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_events_ingested_total",
			Help: "Total number of delivery events processed",
		},
		[]string{"provider", "outcome"},
	)

	repliesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_replies_detected_total",
			Help: "Total number of prospect replies detected",
		},
	)

	opportunitiesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outreach_opportunities_created_total",
			Help: "Total number of opportunities auto-created from replies",
		},
	)

	enrichmentRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outreach_enrichment_runs_total",
			Help: "Total number of research enrichment runs",
		},
		[]string{"outcome"},
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

// Middleware records request counts and latencies per route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
	})
}

// RecordSend counts one dispatch attempt that reached the provider. outcome
// is "sent" or "failed"; guard-skipped emails never reach a provider and are
// not counted here.
func RecordSend(provider, outcome string) {
	emailsSent.WithLabelValues(provider, outcome).Inc()
}

// RecordEvent counts one ingested delivery event. outcome is "processed",
// "ignored", or "failed".
func RecordEvent(provider, outcome string) {
	eventsIngested.WithLabelValues(provider, outcome).Inc()
}

// RecordReply counts one detected prospect reply.
func RecordReply() {
	repliesDetected.Inc()
}

// RecordOpportunity counts one auto-created opportunity.
func RecordOpportunity() {
	opportunitiesCreated.Inc()
}

// RecordEnrichment counts one research run. outcome is "cached", "generated",
// or "fallback".
func RecordEnrichment(outcome string) {
	enrichmentRuns.WithLabelValues(outcome).Inc()
}
