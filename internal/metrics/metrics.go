// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sony/gobreaker/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cureliah_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cureliah_booking_transitions_total",
			Help: "Booking status transitions applied",
		},
		[]string{"from", "to"},
	)

	UrgentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cureliah_urgent_request_transitions_total",
			Help: "Urgent request status transitions applied",
		},
		[]string{"from", "to"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cureliah_notifications_created_total",
			Help: "Notifications written, by type",
		},
		[]string{"type"},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cureliah_stripe_webhook_events_total",
			Help: "Stripe webhook events received, by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	UnmappedPrices = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cureliah_unmapped_price_total",
			Help: "Subscriptions whose price id fell back to the default plan",
		},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cureliah_outbox_messages_total",
			Help: "Outbox messages processed, by outcome",
		},
		[]string{"outcome"},
	)

	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cureliah_realtime_clients",
			Help: "Connected websocket clients",
		},
	)

	RealtimeDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cureliah_realtime_dropped_messages_total",
			Help: "Messages dropped because a client send buffer was full",
		},
	)

	ClientErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cureliah_client_errors_total",
			Help: "Client-side errors reported to the monitoring endpoint",
		},
		[]string{"severity"},
	)

	ClientPerformance = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cureliah_client_performance_value",
			Help:    "Client-side performance samples (milliseconds, CLS unitless)",
			Buckets: []float64{0.1, 1, 10, 50, 100, 250, 500, 1000, 2500, 4000, 10000},
		},
		[]string{"name"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cureliah_emails_total",
			Help: "Transactional emails, by template and outcome",
		},
		[]string{"template", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cureliah_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cureliah_cache_lookups_total",
			Help: "Read-cache lookups, by cache and result",
		},
		[]string{"cache", "result"},
	)
)

// Middleware records request duration labelled with the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

// ObserveBreaker is a gobreaker OnStateChange hook exporting the new state.
func ObserveBreaker(name string, _, to gobreaker.State) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}
