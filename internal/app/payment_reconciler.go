/**
 * @description
 * This file applies Stripe webhook events to local state. Each event is handled
 * on its own: a booking's payment status only moves along `domain.CanApplyPayment`,
 * and subscriptions are upserted on (user_id, stripe_subscription_id), so replays
 * and out-of-order deliveries converge on the same rows.
 *
 * @dependencies
 * - pkg/stripeclient: decoded webhook objects and API read-back.
 * - internal/store: transactional data access.
 * - internal/metrics: unmapped price counter.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/internal/store"
	"github.com/cureliah/backend/pkg/stripeclient"
	"github.com/google/uuid"
)

// PaymentProvider is the subset of the Stripe client the payment flows use.
type PaymentProvider interface {
	GetCheckoutSession(ctx context.Context, id string) (*stripeclient.CheckoutSession, error)
	GetSubscription(ctx context.Context, id string) (*stripeclient.Subscription, error)
	CreateBookingCheckout(ctx context.Context, in stripeclient.BookingCheckout) (*stripeclient.CheckoutSession, error)
	CreateSubscriptionCheckout(ctx context.Context, in stripeclient.SubscriptionCheckout) (*stripeclient.CheckoutSession, error)
}

// SubscriptionOwner identifies who a subscription belongs to when the event
// itself does not say.
type SubscriptionOwner struct {
	UserID         uuid.UUID
	SubscriberType domain.SubscriberType
}

type PaymentReconciler struct {
	store    store.Store
	provider PaymentProvider
	catalog  *domain.PlanCatalog
	events   *EventWriter
	logger   *slog.Logger
}

func NewPaymentReconciler(st store.Store, provider PaymentProvider, catalog *domain.PlanCatalog, events *EventWriter, logger *slog.Logger) *PaymentReconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentReconciler{
		store:    st,
		provider: provider,
		catalog:  catalog,
		events:   events,
		logger:   logger.With("component", "payment_reconciler"),
	}
}

// HandleEvent routes one verified webhook event. handled is false for event
// types the platform does not act on. A non-nil error means a local write
// failed and the provider should redeliver.
func (r *PaymentReconciler) HandleEvent(ctx context.Context, evt *stripeclient.Event) (handled bool, err error) {
	switch evt.Type {
	case stripeclient.EventCheckoutCompleted, stripeclient.EventCheckoutAsyncPaymentSucceed:
		if evt.Session == nil {
			return true, nil
		}
		return true, r.handleCheckoutCompleted(ctx, evt.Session)

	case stripeclient.EventCheckoutAsyncPaymentFailed:
		if evt.Session == nil {
			return true, nil
		}
		bookingID, ok, err := r.bookingFromSession(ctx, evt.Session)
		if err != nil || !ok {
			return true, err
		}
		_, err = r.MarkBookingPaymentFailed(ctx, bookingID, "")
		return true, r.swallowUnknownBooking(err, bookingID)

	case stripeclient.EventPaymentIntentSucceeded:
		if evt.PaymentIntent == nil {
			return true, nil
		}
		bookingID, ok, err := r.bookingFromRefs(ctx, evt.PaymentIntent.Metadata, "", "", evt.PaymentIntent.ID)
		if err != nil || !ok {
			return true, err
		}
		_, err = r.MarkBookingPaid(ctx, bookingID, PaymentRefs{PaymentIntentID: evt.PaymentIntent.ID})
		return true, r.swallowUnknownBooking(err, bookingID)

	case stripeclient.EventPaymentIntentFailed:
		if evt.PaymentIntent == nil {
			return true, nil
		}
		bookingID, ok, err := r.bookingFromRefs(ctx, evt.PaymentIntent.Metadata, "", "", evt.PaymentIntent.ID)
		if err != nil || !ok {
			return true, err
		}
		_, err = r.MarkBookingPaymentFailed(ctx, bookingID, evt.PaymentIntent.FailureMessage)
		return true, r.swallowUnknownBooking(err, bookingID)

	case stripeclient.EventChargeRefunded:
		if evt.Charge == nil || !evt.Charge.Refunded {
			return true, nil
		}
		bookingID, ok, err := r.bookingFromRefs(ctx, evt.Charge.Metadata, "", "", evt.Charge.PaymentIntentID)
		if err != nil || !ok {
			return true, err
		}
		_, err = r.MarkBookingRefunded(ctx, bookingID)
		return true, r.swallowUnknownBooking(err, bookingID)

	case stripeclient.EventSubscriptionCreated, stripeclient.EventSubscriptionUpdated, stripeclient.EventSubscriptionDeleted:
		if evt.Subscription == nil {
			return true, nil
		}
		sub := *evt.Subscription
		if evt.Type == stripeclient.EventSubscriptionDeleted {
			sub.Status = string(domain.SubscriptionCanceled)
		}
		_, err := r.SyncSubscription(ctx, &sub, SubscriptionOwner{})
		return true, err

	case stripeclient.EventInvoicePaymentSucceeded, stripeclient.EventInvoicePaymentFailed:
		if evt.Invoice == nil || evt.Invoice.SubscriptionID == "" {
			return true, nil
		}
		sub, err := r.provider.GetSubscription(ctx, evt.Invoice.SubscriptionID)
		if err != nil {
			return true, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
		}
		if sub.CustomerID == "" {
			sub.CustomerID = evt.Invoice.CustomerID
		}
		_, err = r.SyncSubscription(ctx, sub, SubscriptionOwner{})
		return true, err
	}
	return false, nil
}

func (r *PaymentReconciler) handleCheckoutCompleted(ctx context.Context, session *stripeclient.CheckoutSession) error {
	switch session.Mode {
	case "subscription":
		_, err := r.SyncCheckoutSubscription(ctx, session, SubscriptionOwner{})
		return err
	case "payment":
		if session.PaymentStatus != "paid" && session.PaymentStatus != "no_payment_required" {
			r.logger.Info("checkout completed without payment yet", "session_id", session.ID, "payment_status", session.PaymentStatus)
			return nil
		}
		bookingID, ok, err := r.bookingFromSession(ctx, session)
		if err != nil || !ok {
			return err
		}
		_, err = r.MarkBookingPaid(ctx, bookingID, PaymentRefs{SessionID: session.ID, PaymentIntentID: session.PaymentIntentID})
		return r.swallowUnknownBooking(err, bookingID)
	}
	r.logger.Debug("ignoring checkout session mode", "session_id", session.ID, "mode", session.Mode)
	return nil
}

// SyncCheckoutSubscription loads the subscription behind a completed
// subscription-mode session and upserts it.
func (r *PaymentReconciler) SyncCheckoutSubscription(ctx context.Context, session *stripeclient.CheckoutSession, owner SubscriptionOwner) (*domain.Subscription, error) {
	sub := session.Subscription
	if sub == nil || sub.PriceID == "" {
		if session.SubscriptionID == "" {
			r.logger.Warn("subscription checkout without subscription id", "session_id", session.ID)
			return nil, nil
		}
		fetched, err := r.provider.GetSubscription(ctx, session.SubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
		}
		sub = fetched
	}

	if owner.UserID == uuid.Nil {
		owner = ownerFromMetadata(session.Metadata)
		if owner.UserID == uuid.Nil {
			if id, err := uuid.Parse(session.ClientReferenceID); err == nil {
				owner.UserID = id
			}
		}
	}
	merged := *sub
	if merged.CustomerID == "" {
		merged.CustomerID = session.CustomerID
	}
	return r.SyncSubscription(ctx, &merged, owner)
}

// SyncSubscription upserts a provider subscription. The owner is taken from
// the hint, then the subscription metadata, then any row already stored for the
// subscription or its customer. Returns nil, nil when no owner can be found.
func (r *PaymentReconciler) SyncSubscription(ctx context.Context, sub *stripeclient.Subscription, hint SubscriptionOwner) (*domain.Subscription, error) {
	owner := hint
	if owner.UserID == uuid.Nil {
		owner = ownerFromMetadata(sub.Metadata)
	}
	if owner.UserID == uuid.Nil || owner.SubscriberType == "" {
		existing, err := r.findExistingSubscription(ctx, sub)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if owner.UserID == uuid.Nil {
				owner.UserID = existing.UserID
			}
			if owner.SubscriberType == "" {
				owner.SubscriberType = existing.SubscriberType
			}
		}
	}
	if owner.UserID == uuid.Nil {
		r.logger.Warn("cannot attribute subscription to a user", "subscription_id", sub.ID, "customer_id", sub.CustomerID)
		return nil, nil
	}
	if owner.SubscriberType == "" {
		subscriberType, err := r.subscriberTypeFromProfile(ctx, owner.UserID)
		if err != nil {
			return nil, err
		}
		owner.SubscriberType = subscriberType
	}

	plan, mapped := r.catalog.Resolve(sub.PriceID)
	if !mapped {
		metrics.UnmappedPrices.Inc()
		r.logger.Warn("unmapped stripe price; defaulting plan", "price_id", sub.PriceID, "subscription_id", sub.ID, "plan", plan)
	}

	row := &domain.Subscription{
		ID:                   uuid.New(),
		UserID:               owner.UserID,
		SubscriberType:       owner.SubscriberType,
		StripeCustomerID:     sub.CustomerID,
		StripeSubscriptionID: sub.ID,
		StripePriceID:        sub.PriceID,
		Status:               domain.SubscriptionStatus(sub.Status),
		PlanType:             plan,
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}

	var saved *domain.Subscription
	err := r.store.WithinTx(ctx, func(repo store.Repository) error {
		previous, err := repo.GetSubscription(ctx, row.UserID, row.StripeSubscriptionID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		saved, err = repo.UpsertSubscription(ctx, row)
		if err != nil {
			return err
		}
		if previous != nil && previous.Status == saved.Status && previous.PlanType == saved.PlanType {
			return nil
		}
		_, err = r.events.Notify(ctx, repo, domain.SubscriptionUpdatedNotice(*saved))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert subscription %s: %w", sub.ID, err)
	}
	r.logger.Info("subscription synced", "subscription_id", saved.StripeSubscriptionID, "user_id", saved.UserID, "status", saved.Status, "plan", saved.PlanType)
	return saved, nil
}

func (r *PaymentReconciler) findExistingSubscription(ctx context.Context, sub *stripeclient.Subscription) (*domain.Subscription, error) {
	if sub.ID != "" {
		existing, err := r.store.FindSubscriptionByStripeID(ctx, sub.ID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	if sub.CustomerID != "" {
		existing, err := r.store.FindSubscriptionByCustomerID(ctx, sub.CustomerID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// subscriberTypeFromProfile falls back to doctor only when the profile is
// missing.
func (r *PaymentReconciler) subscriberTypeFromProfile(ctx context.Context, userID uuid.UUID) (domain.SubscriberType, error) {
	profile, err := r.store.GetProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.SubscriberDoctor, nil
	}
	if err != nil {
		return "", fmt.Errorf("get profile %s: %w", userID, err)
	}
	if profile.Role == domain.RoleEstablishment {
		return domain.SubscriberEstablishment, nil
	}
	return domain.SubscriberDoctor, nil
}

func ownerFromMetadata(md map[string]string) SubscriptionOwner {
	var owner SubscriptionOwner
	if id, err := uuid.Parse(stripeclient.MetadataValue(md, stripeclient.MetadataUserID)); err == nil {
		owner.UserID = id
	}
	switch domain.SubscriberType(strings.ToLower(stripeclient.MetadataValue(md, stripeclient.MetadataSubscriberType))) {
	case domain.SubscriberDoctor:
		owner.SubscriberType = domain.SubscriberDoctor
	case domain.SubscriberEstablishment:
		owner.SubscriberType = domain.SubscriberEstablishment
	}
	return owner
}

// PaymentRefs are the provider references stored on a booking when paid.
type PaymentRefs struct {
	SessionID       string
	PaymentIntentID string
}

// MarkBookingPaid records a successful payment. A pending booking is confirmed
// as if the doctor had accepted it; a booked one keeps its status; terminal
// bookings only get their payment status updated.
func (r *PaymentReconciler) MarkBookingPaid(ctx context.Context, bookingID uuid.UUID, refs PaymentRefs) (*domain.Booking, error) {
	var (
		result     *domain.Booking
		confirmed  bool
		superseded int
	)
	err := r.store.WithinTx(ctx, func(repo store.Repository) error {
		b, err := repo.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !domain.CanApplyPayment(b.PaymentStatus, domain.PaymentPaid) {
			r.logger.Info("ignoring payment success", "booking_id", b.ID, "payment_status", b.PaymentStatus)
			result = b
			return nil
		}
		changed := b.PaymentStatus != domain.PaymentPaid

		paid := domain.PaymentPaid
		update := store.BookingUpdate{ExpectedStatus: b.Status, PaymentStatus: &paid}
		if refs.SessionID != "" {
			update.StripeSessionID = &refs.SessionID
		}
		if refs.PaymentIntentID != "" {
			update.StripePaymentIntentID = &refs.PaymentIntentID
		}
		updated, err := repo.UpdateBooking(ctx, b.ID, update)
		if err != nil {
			return err
		}

		switch {
		case updated.Status == domain.BookingPending:
			booked, n, err := acceptPendingBooking(ctx, repo, r.events, updated, updated.DoctorID)
			switch {
			case errors.Is(err, domain.ErrVacationUnavailable):
				r.logger.Warn("paid booking left pending; vacation no longer available", "booking_id", b.ID, "vacation_id", b.VacationPostID)
			case err != nil:
				return err
			default:
				updated = booked
				confirmed = true
				superseded = n
				if _, err := r.events.Notify(ctx, repo, domain.BookingAcceptedNotice(*booked)); err != nil {
					return err
				}
			}
		case updated.Status.IsTerminal():
			r.logger.Warn("payment received for terminal booking", "booking_id", b.ID, "status", updated.Status)
		}

		if changed {
			if _, err := r.events.Notify(ctx, repo, domain.PaymentReceivedNotice(*updated)); err != nil {
				return err
			}
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark booking %s paid: %w", bookingID, translateStoreErr(err))
	}
	if confirmed {
		recordBookingTransition(domain.BookingPending, domain.BookingBooked)
		for i := 0; i < superseded; i++ {
			recordBookingTransition(domain.BookingPending, domain.BookingCancelled)
		}
	}
	r.logger.Info("booking payment applied", "booking_id", result.ID, "status", result.Status, "payment_status", result.PaymentStatus)
	return result, nil
}

// MarkBookingPaymentFailed records a failed attempt; the booking status is left
// unchanged and a failure arriving after a success is ignored.
func (r *PaymentReconciler) MarkBookingPaymentFailed(ctx context.Context, bookingID uuid.UUID, reason string) (*domain.Booking, error) {
	return r.applyPaymentStatus(ctx, bookingID, domain.PaymentFailed, func(b domain.Booking) domain.NewNotification {
		return domain.PaymentFailedNotice(b, reason)
	})
}

func (r *PaymentReconciler) MarkBookingRefunded(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return r.applyPaymentStatus(ctx, bookingID, domain.PaymentRefunded, nil)
}

// applyPaymentStatus moves payment_status only, notifying on the first move.
func (r *PaymentReconciler) applyPaymentStatus(ctx context.Context, bookingID uuid.UUID, to domain.PaymentStatus, notice func(domain.Booking) domain.NewNotification) (*domain.Booking, error) {
	var result *domain.Booking
	err := r.store.WithinTx(ctx, func(repo store.Repository) error {
		b, err := repo.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if !domain.CanApplyPayment(b.PaymentStatus, to) {
			r.logger.Info("ignoring payment status", "booking_id", b.ID, "from", b.PaymentStatus, "to", to)
			result = b
			return nil
		}
		if b.PaymentStatus == to {
			result = b
			return nil
		}
		updated, err := repo.UpdateBooking(ctx, b.ID, store.BookingUpdate{
			ExpectedStatus: b.Status,
			PaymentStatus:  &to,
		})
		if err != nil {
			return err
		}
		if notice != nil {
			if _, err := r.events.Notify(ctx, repo, notice(*updated)); err != nil {
				return err
			}
		}
		result = updated
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set booking %s payment %s: %w", bookingID, to, translateStoreErr(err))
	}
	return result, nil
}

func (r *PaymentReconciler) bookingFromSession(ctx context.Context, s *stripeclient.CheckoutSession) (uuid.UUID, bool, error) {
	return r.bookingFromRefs(ctx, s.Metadata, s.ClientReferenceID, s.ID, s.PaymentIntentID)
}

// bookingFromRefs resolves the booking an event is about: metadata first, then
// the checkout client reference, then stored provider references. A lookup
// failure other than not-found is returned so the event is redelivered.
func (r *PaymentReconciler) bookingFromRefs(ctx context.Context, md map[string]string, clientRef, sessionID, paymentIntentID string) (uuid.UUID, bool, error) {
	if id, err := uuid.Parse(stripeclient.MetadataValue(md, stripeclient.MetadataBookingID)); err == nil {
		return id, true, nil
	}
	if id, err := uuid.Parse(clientRef); err == nil {
		return id, true, nil
	}
	if sessionID != "" || paymentIntentID != "" {
		b, err := r.store.FindBookingByPaymentRef(ctx, sessionID, paymentIntentID)
		if err == nil {
			return b.ID, true, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, false, fmt.Errorf("find booking by payment reference: %w", err)
		}
	}
	r.logger.Warn("payment event without booking reference", "session_id", sessionID, "payment_intent_id", paymentIntentID)
	return uuid.Nil, false, nil
}

// swallowUnknownBooking drops events for bookings that do not exist here;
// redelivery cannot fix them.
func (r *PaymentReconciler) swallowUnknownBooking(err error, bookingID uuid.UUID) error {
	if errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn("payment event for unknown booking", "booking_id", bookingID)
		return nil
	}
	return err
}
