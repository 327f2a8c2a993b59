package stripeclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid stripe webhook signature")

// Metadata keys written on sessions, payment intents and subscriptions.
const (
	MetadataBookingID      = "bookingId"
	MetadataUserID         = "userId"
	MetadataSubscriberType = "subscriberType"
)

// legacyMetadataKeys lists the snake_case spellings older sessions carry.
var legacyMetadataKeys = map[string]string{
	MetadataBookingID:      "booking_id",
	MetadataUserID:         "user_id",
	MetadataSubscriberType: "subscriber_type",
}

// MetadataValue reads key from metadata, falling back to its snake_case spelling.
func MetadataValue(metadata map[string]string, key string) string {
	if v := metadata[key]; v != "" {
		return v
	}
	if legacy, ok := legacyMetadataKeys[key]; ok {
		return metadata[legacy]
	}
	return ""
}

// Event types the platform reacts to.
const (
	EventCheckoutCompleted           = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceed = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncPaymentFailed  = "checkout.session.async_payment_failed"
	EventCheckoutExpired             = "checkout.session.expired"
	EventPaymentIntentSucceeded      = "payment_intent.succeeded"
	EventPaymentIntentFailed         = "payment_intent.payment_failed"
	EventChargeRefunded              = "charge.refunded"
	EventSubscriptionCreated         = "customer.subscription.created"
	EventSubscriptionUpdated         = "customer.subscription.updated"
	EventSubscriptionDeleted         = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded     = "invoice.payment_succeeded"
	EventInvoicePaymentFailed        = "invoice.payment_failed"
)

// Event is a verified webhook event with its object decoded into one of the
// typed fields below. Unknown event types leave every field nil.
type Event struct {
	ID            string
	Type          string
	Created       time.Time
	Session       *CheckoutSession
	Subscription  *Subscription
	PaymentIntent *PaymentIntent
	Charge        *Charge
	Invoice       *Invoice
}

type CheckoutSession struct {
	ID                string
	Mode              string
	Status            string
	PaymentStatus     string
	PaymentIntentID   string
	SubscriptionID    string
	CustomerID        string
	CustomerEmail     string
	ClientReferenceID string
	URL               string
	AmountTotal       int64
	Metadata          map[string]string
	// Subscription is set when the API expanded it.
	Subscription *Subscription
}

type Subscription struct {
	ID                 string
	CustomerID         string
	PriceID            string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	Metadata           map[string]string
}

type PaymentIntent struct {
	ID             string
	Status         string
	FailureMessage string
	Metadata       map[string]string
}

type Charge struct {
	ID              string
	PaymentIntentID string
	Refunded        bool
	Metadata        map[string]string
}

type Invoice struct {
	ID             string
	SubscriptionID string
	CustomerID     string
}

// VerifyEvent checks the Stripe-Signature header and decodes the event.
func (c *Client) VerifyEvent(payload []byte, signatureHeader string) (*Event, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ParseEvent(evt)
}

// ParseEvent decodes the event object for the types the platform handles.
func ParseEvent(evt stripe.Event) (*Event, error) {
	out := &Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: time.Unix(evt.Created, 0).UTC(),
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}
	raw := evt.Data.Raw

	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncPaymentSucceed, EventCheckoutAsyncPaymentFailed, EventCheckoutExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Session = sessionFromStripe(&s)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var s stripe.Subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out.Subscription = subscriptionFromStripe(&s)
	case EventPaymentIntentSucceeded, EventPaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.PaymentIntent = paymentIntentFromStripe(&pi)
	case EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return nil, fmt.Errorf("decode charge: %w", err)
		}
		out.Charge = &Charge{ID: ch.ID, Refunded: ch.Refunded, Metadata: ch.Metadata}
		if ch.PaymentIntent != nil {
			out.Charge.PaymentIntentID = ch.PaymentIntent.ID
		}
	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		out.Invoice = &Invoice{ID: inv.ID}
		if inv.Subscription != nil {
			out.Invoice.SubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			out.Invoice.CustomerID = inv.Customer.ID
		}
	}
	return out, nil
}

func sessionFromStripe(s *stripe.CheckoutSession) *CheckoutSession {
	if s == nil {
		return nil
	}
	out := &CheckoutSession{
		ID:                s.ID,
		Mode:              string(s.Mode),
		Status:            string(s.Status),
		PaymentStatus:     string(s.PaymentStatus),
		ClientReferenceID: s.ClientReferenceID,
		URL:               s.URL,
		AmountTotal:       s.AmountTotal,
		Metadata:          s.Metadata,
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
		// An unexpanded reference only carries the id.
		if s.Subscription.Status != "" {
			out.Subscription = subscriptionFromStripe(s.Subscription)
		}
	}
	return out
}

func subscriptionFromStripe(s *stripe.Subscription) *Subscription {
	if s == nil {
		return nil
	}
	out := &Subscription{
		ID:                 s.ID,
		Status:             string(s.Status),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		Metadata:           s.Metadata,
		CurrentPeriodStart: unixPtr(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(s.CurrentPeriodEnd),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil {
		for _, item := range s.Items.Data {
			if item != nil && item.Price != nil && item.Price.ID != "" {
				out.PriceID = item.Price.ID
				break
			}
		}
	}
	return out
}

func paymentIntentFromStripe(pi *stripe.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:       pi.ID,
		Status:   string(pi.Status),
		Metadata: pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
