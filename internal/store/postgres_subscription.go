package store

import (
	"context"

	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const subscriptionColumns = `id, user_id, subscriber_type, stripe_customer_id, stripe_subscription_id,
	stripe_price_id, status, plan_type, current_period_start, current_period_end, cancel_at_period_end,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var (
		s                                domain.Subscription
		subscriberType, status, planType string
	)
	if err := row.Scan(&s.ID, &s.UserID, &subscriberType, &s.StripeCustomerID, &s.StripeSubscriptionID,
		&s.StripePriceID, &status, &planType, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelAtPeriodEnd,
		&s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	s.SubscriberType = domain.SubscriberType(subscriberType)
	s.Status = domain.SubscriptionStatus(status)
	s.PlanType = domain.PlanType(planType)
	return &s, nil
}

// UpsertSubscription writes the row in a single statement keyed on
// (user_id, stripe_subscription_id); concurrent deliveries of the same event
// converge on one row.
func (r *PostgresRepository) UpsertSubscription(ctx context.Context, s *domain.Subscription) (*domain.Subscription, error) {
	id := s.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return scanSubscription(r.db.QueryRow(ctx, `
		INSERT INTO subscriptions (id, user_id, subscriber_type, stripe_customer_id, stripe_subscription_id,
			stripe_price_id, status, plan_type, current_period_start, current_period_end, cancel_at_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, stripe_subscription_id) DO UPDATE SET
			subscriber_type = EXCLUDED.subscriber_type,
			stripe_customer_id = COALESCE(NULLIF(EXCLUDED.stripe_customer_id, ''), subscriptions.stripe_customer_id),
			stripe_price_id = COALESCE(NULLIF(EXCLUDED.stripe_price_id, ''), subscriptions.stripe_price_id),
			status = EXCLUDED.status,
			plan_type = EXCLUDED.plan_type,
			current_period_start = COALESCE(EXCLUDED.current_period_start, subscriptions.current_period_start),
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			updated_at = NOW()
		RETURNING `+subscriptionColumns,
		id, s.UserID, string(s.SubscriberType), s.StripeCustomerID, s.StripeSubscriptionID, s.StripePriceID,
		string(s.Status), string(s.PlanType), s.CurrentPeriodStart, s.CurrentPeriodEnd, s.CancelAtPeriodEnd))
}

func (r *PostgresRepository) GetSubscription(ctx context.Context, userID uuid.UUID, stripeSubscriptionID string) (*domain.Subscription, error) {
	return scanSubscription(r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1 AND stripe_subscription_id = $2
	`, userID, stripeSubscriptionID))
}

func (r *PostgresRepository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	return scanSubscription(r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE stripe_subscription_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, stripeSubscriptionID))
}

func (r *PostgresRepository) FindSubscriptionByCustomerID(ctx context.Context, stripeCustomerID string) (*domain.Subscription, error) {
	return scanSubscription(r.db.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE stripe_customer_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, stripeCustomerID))
}

func (r *PostgresRepository) ListSubscriptions(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Subscription, 0)
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *s)
	}
	return items, rows.Err()
}
