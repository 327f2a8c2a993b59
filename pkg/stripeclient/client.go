/**
 * @description
 * This package wraps the Stripe API for the payment flows the platform needs:
 * webhook verification, checkout session creation, and read-back of sessions and
 * subscriptions. Calls go through a circuit breaker so a Stripe outage fails fast
 * instead of tying up request goroutines.
 *
 * @dependencies
 * - github.com/stripe/stripe-go/v76: the Stripe SDK.
 * - github.com/sony/gobreaker/v2: circuit breaker around outbound calls.
 */
package stripeclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// ErrNotConfigured is returned when no secret key was supplied.
var ErrNotConfigured = errors.New("stripe client is not configured")

// Config holds the Stripe credentials and breaker tuning.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// OnStateChange is notified when the breaker opens, half-opens or closes.
	OnStateChange func(name string, from, to gobreaker.State)
}

// Client is a client for the Stripe API.
type Client struct {
	api           *client.API
	webhookSecret string
	breaker       *gobreaker.CircuitBreaker[any]
	logger        *slog.Logger
}

// NewClient creates a new Stripe API client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
	if cfg.SecretKey != "" {
		c.api = &client.API{}
		c.api.Init(cfg.SecretKey, nil)
	}

	c.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: isBreakerSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "component", "stripe_client", "breaker", name, "from", from.String(), "to", to.String())
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from, to)
			}
		},
	})
	return c
}

// isBreakerSuccess keeps client errors (declines, bad ids) from tripping the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode > 0 && stripeErr.HTTPStatusCode < 500
	}
	return false
}

func (c *Client) execute(fn func() (any, error)) (any, error) {
	if c.api == nil {
		return nil, ErrNotConfigured
	}
	return c.breaker.Execute(fn)
}

// GetCheckoutSession fetches a session with its subscription expanded.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	out, err := c.execute(func() (any, error) {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		params.AddExpand("subscription")
		params.AddExpand("payment_intent")
		return c.api.CheckoutSessions.Get(id, params)
	})
	if err != nil {
		return nil, fmt.Errorf("get checkout session %s: %w", id, err)
	}
	return sessionFromStripe(out.(*stripe.CheckoutSession)), nil
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	out, err := c.execute(func() (any, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		return c.api.Subscriptions.Get(id, params)
	})
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return subscriptionFromStripe(out.(*stripe.Subscription)), nil
}

// BookingCheckout describes a one-off payment for a booking.
type BookingCheckout struct {
	BookingID     string
	CustomerEmail string
	Description   string
	AmountCents   int64
	Currency      string
	SuccessURL    string
	CancelURL     string
}

// CreateBookingCheckout opens a payment-mode session tagged with the booking id so
// webhook events can be routed back to it.
func (c *Client) CreateBookingCheckout(ctx context.Context, in BookingCheckout) (*CheckoutSession, error) {
	currency := in.Currency
	if currency == "" {
		currency = string(stripe.CurrencyEUR)
	}
	out, err := c.execute(func() (any, error) {
		params := &stripe.CheckoutSessionParams{
			Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
			SuccessURL:        stripe.String(in.SuccessURL),
			CancelURL:         stripe.String(in.CancelURL),
			ClientReferenceID: stripe.String(in.BookingID),
			LineItems: []*stripe.CheckoutSessionLineItemParams{{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(in.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.Description),
					},
				},
				Quantity: stripe.Int64(1),
			}},
			PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
				Metadata: map[string]string{MetadataBookingID: in.BookingID},
			},
		}
		if in.CustomerEmail != "" {
			params.CustomerEmail = stripe.String(in.CustomerEmail)
		}
		params.Context = ctx
		params.AddMetadata(MetadataBookingID, in.BookingID)
		return c.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create booking checkout: %w", err)
	}
	return sessionFromStripe(out.(*stripe.CheckoutSession)), nil
}

// SubscriptionCheckout describes a plan subscription purchase.
type SubscriptionCheckout struct {
	UserID         string
	SubscriberType string
	CustomerEmail  string
	PriceID        string
	SuccessURL     string
	CancelURL      string
}

func (c *Client) CreateSubscriptionCheckout(ctx context.Context, in SubscriptionCheckout) (*CheckoutSession, error) {
	out, err := c.execute(func() (any, error) {
		metadata := map[string]string{
			MetadataUserID:         in.UserID,
			MetadataSubscriberType: in.SubscriberType,
		}
		params := &stripe.CheckoutSessionParams{
			Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			SuccessURL:        stripe.String(in.SuccessURL),
			CancelURL:         stripe.String(in.CancelURL),
			ClientReferenceID: stripe.String(in.UserID),
			LineItems: []*stripe.CheckoutSessionLineItemParams{{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			}},
			SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
				Metadata: metadata,
			},
		}
		if in.CustomerEmail != "" {
			params.CustomerEmail = stripe.String(in.CustomerEmail)
		}
		params.Context = ctx
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		return c.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create subscription checkout: %w", err)
	}
	return sessionFromStripe(out.(*stripe.CheckoutSession)), nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}
