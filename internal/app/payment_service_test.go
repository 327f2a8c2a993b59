package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cureliah/backend/internal/cache"
	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/logging"
	"github.com/cureliah/backend/pkg/stripeclient"
	"github.com/google/uuid"
)

func newPaymentService(st *memStore, provider *fakeProvider) *PaymentService {
	catalog := domain.NewPlanCatalog(domain.DefaultPriceTable)
	reconciler := NewPaymentReconciler(st, provider, catalog, NewEventWriter(""), logging.Discard())
	sessions := cache.New[string, *stripeclient.CheckoutSession](10, time.Minute)
	return NewPaymentService(st, provider, reconciler, catalog, sessions, CheckoutURLs{
		Success: "https://app.cureliah.test/payment-success",
		Cancel:  "https://app.cureliah.test/payment-cancel",
	}, logging.Discard())
}

func TestCheckStatus_ReconcilesMissingSubscription(t *testing.T) {
	st := newMemStore()
	user := st.addProfile(domain.RoleDoctor)
	provider := newFakeProvider()
	provider.subscriptions["sub_s"] = &stripeclient.Subscription{ID: "sub_s", CustomerID: "cus_s", PriceID: "price_premium_monthly", Status: "active"}
	provider.sessions["cs_s"] = &stripeclient.CheckoutSession{
		ID:             "cs_s",
		Mode:           "subscription",
		Status:         "complete",
		PaymentStatus:  "paid",
		SubscriptionID: "sub_s",
		CustomerID:     "cus_s",
		Metadata:       map[string]string{stripeclient.MetadataUserID: user.ID.String()},
	}
	svc := newPaymentService(st, provider)
	actor := Actor{ID: user.ID, Role: domain.RoleDoctor}

	report, err := svc.CheckStatus(context.Background(), actor, "cs_s", user.ID)
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if !report.DBSynced || report.PlanType != domain.PlanPremium {
		t.Fatalf("unexpected report: %+v", report)
	}

	provider.err = errors.New("should be served from cache")
	again, err := svc.CheckStatus(context.Background(), actor, "cs_s", user.ID)
	if err != nil {
		t.Fatalf("cached CheckStatus() error = %v", err)
	}
	if !again.DBSynced {
		t.Fatalf("expected synced report on second poll, got %+v", again)
	}
	if subs, _ := st.ListSubscriptions(context.Background(), user.ID); len(subs) != 1 {
		t.Fatalf("expected one subscription row, got %d", len(subs))
	}
}

func TestCheckStatus_OpenSessionIsNotReconciled(t *testing.T) {
	st := newMemStore()
	user := st.addProfile(domain.RoleEstablishment)
	provider := newFakeProvider()
	provider.sessions["cs_open"] = &stripeclient.CheckoutSession{ID: "cs_open", Mode: "subscription", Status: "open", PaymentStatus: "unpaid", SubscriptionID: "sub_o"}
	svc := newPaymentService(st, provider)

	report, err := svc.CheckStatus(context.Background(), Actor{ID: user.ID, Role: domain.RoleEstablishment}, "cs_open", uuid.Nil)
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if report.DBSynced || provider.getSubCalls != 0 {
		t.Fatalf("open session should not sync: report=%+v calls=%d", report, provider.getSubCalls)
	}
}

func TestCheckStatus_Guards(t *testing.T) {
	st := newMemStore()
	user := st.addProfile(domain.RoleDoctor)
	other := st.addProfile(domain.RoleDoctor)
	provider := newFakeProvider()
	provider.sessions["cs_other"] = &stripeclient.CheckoutSession{ID: "cs_other", Mode: "subscription", Status: "complete", Metadata: map[string]string{stripeclient.MetadataUserID: other.ID.String()}}
	svc := newPaymentService(st, provider)
	actor := Actor{ID: user.ID, Role: domain.RoleDoctor}

	tests := []struct {
		name      string
		sessionID string
		userID    uuid.UUID
		check     func(error) bool
	}{
		{name: "missing session id", sessionID: " ", userID: user.ID, check: func(err error) bool { _, ok := domain.IsValidation(err); return ok }},
		{name: "user mismatch", sessionID: "cs_other", userID: other.ID, check: func(err error) bool { return errors.Is(err, domain.ErrForbidden) }},
		{name: "session of another user", sessionID: "cs_other", userID: user.ID, check: func(err error) bool { return errors.Is(err, domain.ErrForbidden) }},
		{name: "provider failure", sessionID: "cs_unknown", userID: user.ID, check: func(err error) bool { return errors.Is(err, domain.ErrUpstream) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CheckStatus(context.Background(), actor, tt.sessionID, tt.userID)
			if !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestCheckStatus_PaidBookingSession(t *testing.T) {
	st := newMemStore()
	doctor := st.addProfile(domain.RoleDoctor)
	establishment := st.addProfile(domain.RoleEstablishment)
	v := st.addVacation(doctor.ID, domain.BookingAvailable)
	b := st.addBooking(v, establishment.ID, domain.BookingPending, domain.PaymentPending)
	provider := newFakeProvider()
	provider.sessions["cs_b"] = &stripeclient.CheckoutSession{
		ID:              "cs_b",
		Mode:            "payment",
		Status:          "complete",
		PaymentStatus:   "paid",
		PaymentIntentID: "pi_b",
		Metadata:        map[string]string{stripeclient.MetadataBookingID: b.ID.String()},
	}
	svc := newPaymentService(st, provider)

	report, err := svc.CheckStatus(context.Background(), Actor{ID: establishment.ID, Role: domain.RoleEstablishment}, "cs_b", establishment.ID)
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if !report.DBSynced || report.BookingID == nil || *report.BookingID != b.ID {
		t.Fatalf("unexpected report: %+v", report)
	}
	if got := st.booking(b.ID); got.PaymentStatus != domain.PaymentPaid || got.Status != domain.BookingBooked {
		t.Fatalf("booking not reconciled: %s/%s", got.Status, got.PaymentStatus)
	}
}

func TestCheckStatus_AsyncPaymentIsRefetchedUntilPaid(t *testing.T) {
	st := newMemStore()
	doctor := st.addProfile(domain.RoleDoctor)
	establishment := st.addProfile(domain.RoleEstablishment)
	v := st.addVacation(doctor.ID, domain.BookingAvailable)
	b := st.addBooking(v, establishment.ID, domain.BookingPending, domain.PaymentPending)
	provider := newFakeProvider()
	provider.sessions["cs_sepa"] = &stripeclient.CheckoutSession{
		ID:            "cs_sepa",
		Mode:          "payment",
		Status:        "complete",
		PaymentStatus: "unpaid",
		Metadata:      map[string]string{stripeclient.MetadataBookingID: b.ID.String()},
	}
	svc := newPaymentService(st, provider)
	actor := Actor{ID: establishment.ID, Role: domain.RoleEstablishment}

	report, err := svc.CheckStatus(context.Background(), actor, "cs_sepa", establishment.ID)
	if err != nil {
		t.Fatalf("CheckStatus() error = %v", err)
	}
	if report.DBSynced || report.PaymentStatus != "unpaid" {
		t.Fatalf("unpaid session should not sync: %+v", report)
	}

	provider.sessions["cs_sepa"].PaymentStatus = "paid"
	provider.sessions["cs_sepa"].PaymentIntentID = "pi_sepa"
	report, err = svc.CheckStatus(context.Background(), actor, "cs_sepa", establishment.ID)
	if err != nil {
		t.Fatalf("second CheckStatus() error = %v", err)
	}
	if !report.DBSynced || report.PaymentStatus != "paid" {
		t.Fatalf("expected the cleared payment to be seen and synced, got %+v", report)
	}
	if got := st.booking(b.ID); got.PaymentStatus != domain.PaymentPaid {
		t.Fatalf("PaymentStatus = %s, want paid", got.PaymentStatus)
	}
}

func TestCreateBookingCheckout(t *testing.T) {
	st := newMemStore()
	doctor := st.addProfile(domain.RoleDoctor)
	establishment := st.addProfile(domain.RoleEstablishment)
	v := st.addVacation(doctor.ID, domain.BookingAvailable)
	b := st.addBooking(v, establishment.ID, domain.BookingPending, domain.PaymentPending)
	provider := newFakeProvider()
	svc := newPaymentService(st, provider)

	res, err := svc.CreateBookingCheckout(context.Background(), Actor{ID: establishment.ID, Role: domain.RoleEstablishment, Email: establishment.Email}, b.ID)
	if err != nil {
		t.Fatalf("CreateBookingCheckout() error = %v", err)
	}
	if res.URL == "" || res.SessionID != "cs_booking" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(provider.bookingCheckouts) != 1 || provider.bookingCheckouts[0].AmountCents != b.TotalAmountCents {
		t.Fatalf("unexpected checkout request: %+v", provider.bookingCheckouts)
	}
	if got := st.booking(b.ID); got.StripeSessionID == nil || *got.StripeSessionID != "cs_booking" {
		t.Fatalf("session id not stored on booking: %+v", got.StripeSessionID)
	}

	paid := st.addBooking(v, uuid.New(), domain.BookingBooked, domain.PaymentPaid)
	paidOwner := Actor{ID: paid.EstablishmentID, Role: domain.RoleEstablishment}
	if _, err := svc.CreateBookingCheckout(context.Background(), paidOwner, paid.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for a paid booking, got %v", err)
	}
}

func TestCreateSubscriptionCheckout(t *testing.T) {
	st := newMemStore()
	user := st.addProfile(domain.RoleEstablishment)
	provider := newFakeProvider()
	svc := newPaymentService(st, provider)
	actor := Actor{ID: user.ID, Role: domain.RoleEstablishment}

	if _, err := svc.CreateSubscriptionCheckout(context.Background(), actor, domain.PlanPro); err != nil {
		t.Fatalf("CreateSubscriptionCheckout() error = %v", err)
	}
	got := provider.subscriptionCheckouts[0]
	if got.PriceID != "price_pro_monthly" || got.SubscriberType != "establishment" || got.UserID != user.ID.String() {
		t.Fatalf("unexpected checkout request: %+v", got)
	}

	if _, err := svc.CreateSubscriptionCheckout(context.Background(), actor, "gold"); err == nil {
		t.Fatal("expected validation error for unknown plan")
	}
}
