package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/pkg/stripeclient"
	"github.com/google/uuid"
)

// Stripe caps webhook payloads well below this.
const maxWebhookBytes = 512 * 1024

type checkPaymentStatusPayload struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

type bookingCheckoutPayload struct {
	BookingID uuid.UUID `json:"bookingId"`
}

type subscriptionCheckoutPayload struct {
	PlanType domain.PlanType `json:"planType"`
}

// CheckPaymentStatusHandler reports a checkout session's state for the
// post-checkout page and reconciles locally when the webhook has not landed.
func (h *Handlers) CheckPaymentStatusHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload checkPaymentStatusPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sessionID := strings.TrimSpace(payload.SessionID)
	if sessionID == "" {
		h.writeValidationError(w, domain.NewValidationError("sessionId", "is required"))
		return
	}
	userID, err := uuid.Parse(strings.TrimSpace(payload.UserID))
	if err != nil {
		h.writeValidationError(w, domain.NewValidationError("userId", "must be a valid user id"))
		return
	}

	report, err := h.payments.CheckStatus(r.Context(), actor, sessionID, userID)
	if err != nil {
		h.writeServiceError(w, r, "check_payment_status", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) CreateBookingCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload bookingCheckoutPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if payload.BookingID == uuid.Nil {
		h.writeValidationError(w, domain.NewValidationError("bookingId", "is required"))
		return
	}
	result, err := h.payments.CreateBookingCheckout(r.Context(), actor, payload.BookingID)
	if err != nil {
		h.writeServiceError(w, r, "create_booking_checkout", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) CreateSubscriptionCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var payload subscriptionCheckoutPayload
	if err := decodeJSON(w, r, &payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	result, err := h.payments.CreateSubscriptionCheckout(r.Context(), actor, payload.PlanType)
	if err != nil {
		h.writeServiceError(w, r, "create_subscription_checkout", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) ListSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	items, err := h.payments.ListSubscriptions(r.Context(), actor)
	if err != nil {
		h.writeServiceError(w, r, "list_subscriptions", err)
		return
	}
	h.writeJSON(w, http.StatusOK, items)
}

// StripeWebhookHandler verifies and reconciles one Stripe event. Events are
// remembered only after a successful reconciliation so a failed write is
// retried on redelivery.
func (h *Handlers) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "unreadable").Inc()
		h.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	evt, err := h.verifier.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		if errors.Is(err, stripeclient.ErrInvalidSignature) {
			h.logger.Warn("rejected stripe webhook", "error", err)
			h.writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		h.logger.Warn("undecodable stripe webhook", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}
	logger := h.logger.With("event_id", evt.ID, "event_type", evt.Type)

	seen, err := h.deduper.Seen(r.Context(), evt.ID)
	if err != nil {
		logger.Warn("webhook replay guard unavailable; processing anyway", "error", err)
	}
	if seen {
		metrics.WebhookEvents.WithLabelValues(evt.Type, "duplicate").Inc()
		logger.Debug("stripe event already reconciled")
		writeOK(w)
		return
	}

	handled, err := h.reconciler.HandleEvent(r.Context(), evt)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(evt.Type, "error").Inc()
		logger.Error("stripe event reconciliation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Reconciliation failed")
		return
	}
	if err := h.deduper.Remember(r.Context(), evt.ID); err != nil {
		logger.Warn("failed to record reconciled stripe event", "error", err)
	}

	outcome := "handled"
	if !handled {
		outcome = "ignored"
		logger.Debug("stripe event ignored")
	}
	metrics.WebhookEvents.WithLabelValues(evt.Type, outcome).Inc()
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
