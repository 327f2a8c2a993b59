/**
 * @description
 * HTTP router for the Cureliah API. Public routes (health, service worker,
 * Stripe webhooks, client monitoring) sit beside the authenticated marketplace
 * routes; every authenticated route is gated by a Casbin permission.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: routing and standard middleware.
 * - github.com/go-chi/cors: browser origins.
 * - github.com/go-chi/httprate: per-IP limit on the public monitoring ingest.
 * - github.com/prometheus/client_golang: /metrics exposition.
 */

package api

import (
	"net/http"
	"time"

	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/internal/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the cross-cutting settings of the router.
type RouterConfig struct {
	AllowedOrigins      []string
	InternalAPIKey      string
	MonitoringRateLimit int
	Auth                *Authenticator
	Policy              PolicyChecker
}

// NewRouter creates and returns the router for the API binary.
func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.MonitoringRateLimit <= 0 {
		cfg.MonitoringRateLimit = 60
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", opIDHeader, internalKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Long-lived websocket; kept outside the request timeout.
	r.Get("/realtime", h.RealtimeHandler(cfg.Auth, cfg.AllowedOrigins))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Use(OpID)

		r.Get("/health", h.HealthHandler)
		r.Handle("/metrics", promhttp.Handler())
		r.Get("/sw.js", web.ServiceWorker)
		r.Get("/offline.html", web.OfflinePage)

		// Stripe signs the raw body; no auth middleware.
		r.Post("/webhooks/stripe", h.StripeWebhookHandler)
		r.Post("/stripe-webhook", h.StripeWebhookHandler)

		r.Route("/monitoring", func(r chi.Router) {
			r.Get("/health", h.HealthHandler)
			r.Group(func(r chi.Router) {
				r.Use(httprate.LimitByIP(cfg.MonitoringRateLimit, time.Minute))
				r.Post("/errors", h.ReportErrorHandler)
				r.Post("/performance", h.RecordPerformanceHandler)
			})
		})

		r.With(InternalOrAdmin(cfg.InternalAPIKey, cfg.Auth, cfg.Policy)).Post("/email", h.SendEmailHandler)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware)
			allow := func(object, action string) func(http.Handler) http.Handler {
				return RequirePermission(cfg.Policy, object, action)
			}

			r.Route("/vacations", func(r chi.Router) {
				r.With(allow("vacation", "read")).Get("/", h.ListVacationsHandler)
				r.With(allow("vacation", "create")).Post("/", h.CreateVacationHandler)
				r.With(allow("vacation", "create")).Get("/mine", h.ListMyVacationsHandler)
				r.With(allow("vacation", "read")).Get("/{vacationID}", h.GetVacationHandler)
				r.With(allow("vacation", "publish")).Post("/{vacationID}/publish", h.PublishVacationHandler)
			})

			r.Route("/bookings", func(r chi.Router) {
				r.With(allow("booking", "read")).Get("/", h.ListBookingsHandler)
				r.With(allow("booking", "request")).Post("/", h.RequestBookingHandler)
				r.With(allow("booking", "read")).Get("/{bookingID}", h.GetBookingHandler)
				r.With(allow("booking", "respond")).Post("/{bookingID}/respond", h.RespondToBookingHandler)
				r.With(allow("booking", "cancel")).Post("/{bookingID}/cancel", h.CancelBookingHandler)
				r.With(allow("booking", "complete")).Post("/{bookingID}/complete", h.CompleteBookingHandler)
				r.With(allow("booking", "review")).Post("/{bookingID}/reviews", h.SubmitReviewHandler)
			})

			r.Route("/urgent-requests", func(r chi.Router) {
				r.With(allow("urgent_request", "read")).Get("/", h.ListOpenUrgentRequestsHandler)
				r.With(allow("urgent_request", "create")).Post("/", h.CreateUrgentRequestHandler)
				r.With(allow("urgent_request", "create")).Get("/mine", h.ListMyUrgentRequestsHandler)
				r.With(allow("urgent_request", "read")).Get("/{requestID}", h.GetUrgentRequestHandler)
				r.With(allow("urgent_request", "read")).Get("/{requestID}/responses", h.ListUrgentResponsesHandler)
				r.With(allow("urgent_request", "respond")).Post("/{requestID}/responses", h.RespondToUrgentRequestHandler)
				r.With(allow("urgent_request", "cancel")).Post("/{requestID}/cancel", h.CancelUrgentRequestHandler)
			})

			r.Route("/urgent-responses/{responseID}", func(r chi.Router) {
				r.With(allow("urgent_response", "decide")).Post("/accept", h.AcceptUrgentResponseHandler)
				r.With(allow("urgent_response", "decide")).Post("/reject", h.RejectUrgentResponseHandler)
				r.With(allow("urgent_response", "withdraw")).Post("/withdraw", h.WithdrawUrgentResponseHandler)
			})

			r.Route("/notifications", func(r chi.Router) {
				r.With(allow("notification", "read")).Get("/", h.ListNotificationsHandler)
				r.With(allow("notification", "read")).Get("/unread-count", h.UnreadCountHandler)
				r.With(allow("notification", "write")).Post("/read-all", h.MarkAllNotificationsReadHandler)
				r.With(allow("notification", "write")).Post("/{notificationID}/read", h.MarkNotificationReadHandler)
				r.With(allow("notification", "write")).Delete("/{notificationID}", h.DeleteNotificationHandler)
			})

			r.Route("/payments", func(r chi.Router) {
				r.With(allow("payment", "read")).Post("/check-status", h.CheckPaymentStatusHandler)
				r.With(allow("booking", "pay")).Post("/checkout/booking", h.CreateBookingCheckoutHandler)
				r.With(allow("subscription", "checkout")).Post("/checkout/subscription", h.CreateSubscriptionCheckoutHandler)
				r.With(allow("payment", "read")).Get("/subscriptions", h.ListSubscriptionsHandler)
			})
			r.With(allow("payment", "read")).Post("/check-payment-status", h.CheckPaymentStatusHandler)
		})
	})

	return r
}

// HealthHandler answers liveness probes.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
