package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cureliah/backend/internal/cache"
	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/internal/store"
	"github.com/cureliah/backend/pkg/stripeclient"
	"github.com/google/uuid"
)

const sessionCacheName = "checkout_session"

// CheckoutURLs are the hosted checkout redirect targets.
type CheckoutURLs struct {
	Success string
	Cancel  string
}

// PaymentService opens checkout sessions and answers status polls from the
// post-checkout page, reconciling inline when the webhook has not landed yet.
type PaymentService struct {
	store      store.Store
	provider   PaymentProvider
	reconciler *PaymentReconciler
	catalog    *domain.PlanCatalog
	sessions   *cache.Cache[string, *stripeclient.CheckoutSession]
	urls       CheckoutURLs
	logger     *slog.Logger
}

func NewPaymentService(
	st store.Store,
	provider PaymentProvider,
	reconciler *PaymentReconciler,
	catalog *domain.PlanCatalog,
	sessions *cache.Cache[string, *stripeclient.CheckoutSession],
	urls CheckoutURLs,
	logger *slog.Logger,
) *PaymentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentService{
		store:      st,
		provider:   provider,
		reconciler: reconciler,
		catalog:    catalog,
		sessions:   sessions,
		urls:       urls,
		logger:     logger.With("component", "payment_service"),
	}
}

// PaymentStatusReport is returned by the check-payment-status endpoint.
type PaymentStatusReport struct {
	SessionID      string          `json:"sessionId"`
	Status         string          `json:"status"`
	PaymentStatus  string          `json:"paymentStatus"`
	Mode           string          `json:"mode"`
	CustomerID     string          `json:"customerId,omitempty"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
	PlanType       domain.PlanType `json:"planType,omitempty"`
	BookingID      *uuid.UUID      `json:"bookingId,omitempty"`
	DBSynced       bool            `json:"dbSynced"`
}

// CheckStatus reports a checkout session's state. userID must be the caller.
func (s *PaymentService) CheckStatus(ctx context.Context, actor Actor, sessionID string, userID uuid.UUID) (*PaymentStatusReport, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, domain.NewValidationError("sessionId", "is required")
	}
	if userID != uuid.Nil && userID != actor.ID {
		return nil, domain.ErrForbidden
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if owner := stripeclient.MetadataValue(session.Metadata, stripeclient.MetadataUserID); owner != "" && owner != actor.ID.String() {
		return nil, domain.ErrForbidden
	}

	report := &PaymentStatusReport{
		SessionID:      session.ID,
		Status:         session.Status,
		PaymentStatus:  session.PaymentStatus,
		Mode:           session.Mode,
		CustomerID:     session.CustomerID,
		SubscriptionID: session.SubscriptionID,
	}
	settled := sessionSettled(session)

	switch session.Mode {
	case "subscription":
		if err := s.checkSubscription(ctx, actor, session, report, settled); err != nil {
			return nil, err
		}
	case "payment":
		if err := s.checkBooking(ctx, actor, session, report, settled); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (s *PaymentService) checkSubscription(ctx context.Context, actor Actor, session *stripeclient.CheckoutSession, report *PaymentStatusReport, settled bool) error {
	if session.SubscriptionID == "" {
		return nil
	}
	row, err := s.store.GetSubscription(ctx, actor.ID, session.SubscriptionID)
	switch {
	case err == nil:
		report.PlanType = row.PlanType
		report.DBSynced = true
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	if !settled {
		return nil
	}

	owner := SubscriptionOwner{UserID: actor.ID, SubscriberType: subscriberTypeFor(actor.Role)}
	saved, err := s.reconciler.SyncCheckoutSubscription(ctx, session, owner)
	if err != nil {
		return err
	}
	if saved != nil {
		s.logger.Info("subscription reconciled from status check", "session_id", session.ID, "user_id", actor.ID)
		report.PlanType = saved.PlanType
		report.DBSynced = true
	}
	return nil
}

func (s *PaymentService) checkBooking(ctx context.Context, actor Actor, session *stripeclient.CheckoutSession, report *PaymentStatusReport, settled bool) error {
	bookingID, err := uuid.Parse(stripeclient.MetadataValue(session.Metadata, stripeclient.MetadataBookingID))
	if err != nil {
		if bookingID, err = uuid.Parse(session.ClientReferenceID); err != nil {
			return nil
		}
	}
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return translateStoreErr(err)
	}
	if !b.IsParty(actor.ID) {
		return domain.ErrForbidden
	}
	report.BookingID = &b.ID
	if b.PaymentStatus == domain.PaymentPaid || b.PaymentStatus == domain.PaymentRefunded {
		report.DBSynced = true
		return nil
	}
	if !settled {
		return nil
	}

	updated, err := s.reconciler.MarkBookingPaid(ctx, b.ID, PaymentRefs{SessionID: session.ID, PaymentIntentID: session.PaymentIntentID})
	if err != nil {
		return err
	}
	s.logger.Info("booking payment reconciled from status check", "session_id", session.ID, "booking_id", b.ID)
	report.DBSynced = updated.PaymentStatus == domain.PaymentPaid
	return nil
}

// sessionSettled reports a completed session whose payment has cleared.
// Asynchronous methods such as SEPA debit complete while still unpaid.
func sessionSettled(session *stripeclient.CheckoutSession) bool {
	return session.Status == "complete" && (session.PaymentStatus == "paid" || session.PaymentStatus == "no_payment_required")
}

// loadSession serves settled sessions from the cache; anything else is always
// fetched so a poll sees the transition.
func (s *PaymentService) loadSession(ctx context.Context, id string) (*stripeclient.CheckoutSession, error) {
	if s.sessions != nil {
		if cached, ok := s.sessions.Get(id); ok {
			metrics.CacheLookups.WithLabelValues(sessionCacheName, "hit").Inc()
			return cached, nil
		}
		metrics.CacheLookups.WithLabelValues(sessionCacheName, "miss").Inc()
	}
	session, err := s.provider.GetCheckoutSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	if s.sessions != nil && sessionSettled(session) {
		s.sessions.Set(id, session)
	}
	return session, nil
}

// CheckoutResult is the hosted checkout the client should redirect to.
type CheckoutResult struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateBookingCheckout opens a payment session for one of the caller's bookings.
func (s *PaymentService) CreateBookingCheckout(ctx context.Context, actor Actor, bookingID uuid.UUID) (*CheckoutResult, error) {
	if actor.Role != domain.RoleEstablishment {
		return nil, domain.ErrForbidden
	}
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, translateStoreErr(err)
	}
	if b.EstablishmentID != actor.ID {
		return nil, domain.ErrNotFound
	}
	if !b.Status.IsLive() {
		return nil, fmt.Errorf("%w: booking is %s", domain.ErrInvalidTransition, b.Status)
	}
	if b.PaymentStatus == domain.PaymentPaid || b.PaymentStatus == domain.PaymentRefunded {
		return nil, fmt.Errorf("%w: booking payment is %s", domain.ErrConflict, b.PaymentStatus)
	}
	if b.TotalAmountCents <= 0 {
		return nil, domain.NewValidationError("total_amount_cents", "booking has no amount to pay")
	}

	description := "Réservation Cureliah"
	if v, err := s.store.GetVacation(ctx, b.VacationPostID); err == nil && v.Title != "" {
		description = v.Title
	}
	session, err := s.provider.CreateBookingCheckout(ctx, stripeclient.BookingCheckout{
		BookingID:     b.ID.String(),
		CustomerEmail: actor.Email,
		Description:   description,
		AmountCents:   b.TotalAmountCents,
		SuccessURL:    s.urls.Success,
		CancelURL:     s.urls.Cancel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}

	if _, err := s.store.UpdateBooking(ctx, b.ID, store.BookingUpdate{
		ExpectedStatus:  b.Status,
		StripeSessionID: &session.ID,
	}); err != nil {
		// The webhook can still match the booking through metadata.
		s.logger.Warn("failed to store checkout session on booking", "booking_id", b.ID, "session_id", session.ID, "error", err)
	}
	s.logger.Info("booking checkout created", "booking_id", b.ID, "session_id", session.ID)
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// CreateSubscriptionCheckout opens a subscription session for plan.
func (s *PaymentService) CreateSubscriptionCheckout(ctx context.Context, actor Actor, plan domain.PlanType) (*CheckoutResult, error) {
	if !plan.Valid() {
		return nil, domain.NewValidationError("planType", "must be one of: essentiel pro premium")
	}
	if actor.Role != domain.RoleDoctor && actor.Role != domain.RoleEstablishment {
		return nil, domain.ErrForbidden
	}
	priceID, ok := s.catalog.PriceFor(plan)
	if !ok {
		return nil, domain.NewValidationError("planType", "plan is not offered")
	}
	session, err := s.provider.CreateSubscriptionCheckout(ctx, stripeclient.SubscriptionCheckout{
		UserID:         actor.ID.String(),
		SubscriberType: string(subscriberTypeFor(actor.Role)),
		CustomerEmail:  actor.Email,
		PriceID:        priceID,
		SuccessURL:     s.urls.Success,
		CancelURL:      s.urls.Cancel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	s.logger.Info("subscription checkout created", "user_id", actor.ID, "plan", plan, "session_id", session.ID)
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// ListSubscriptions returns the caller's subscriptions.
func (s *PaymentService) ListSubscriptions(ctx context.Context, actor Actor) ([]domain.Subscription, error) {
	return s.store.ListSubscriptions(ctx, actor.ID)
}

func subscriberTypeFor(role domain.Role) domain.SubscriberType {
	if role == domain.RoleEstablishment {
		return domain.SubscriberEstablishment
	}
	return domain.SubscriberDoctor
}
