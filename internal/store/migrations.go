package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations creates the schema when missing. Statements are idempotent.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}

const schema = `
	CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL CHECK (role IN ('doctor', 'establishment', 'admin')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS vacation_posts (
		id UUID PRIMARY KEY,
		doctor_id UUID NOT NULL REFERENCES profiles(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		speciality TEXT NOT NULL,
		location TEXT NOT NULL DEFAULT '',
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		hourly_rate_cents BIGINT NOT NULL CHECK (hourly_rate_cents >= 0),
		billable_hours DOUBLE PRECISION CHECK (billable_hours IS NULL OR billable_hours > 0),
		status TEXT NOT NULL DEFAULT 'available'
			CHECK (status IN ('draft', 'available', 'pending', 'booked', 'completed', 'cancelled')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (end_date > start_date)
	);
	ALTER TABLE vacation_posts ADD COLUMN IF NOT EXISTS billable_hours DOUBLE PRECISION
		CHECK (billable_hours IS NULL OR billable_hours > 0);
	CREATE INDEX IF NOT EXISTS idx_vacation_posts_status_start ON vacation_posts(status, start_date);
	CREATE INDEX IF NOT EXISTS idx_vacation_posts_doctor ON vacation_posts(doctor_id);

	CREATE TABLE IF NOT EXISTS bookings (
		id UUID PRIMARY KEY,
		vacation_post_id UUID NOT NULL REFERENCES vacation_posts(id),
		doctor_id UUID NOT NULL REFERENCES profiles(id),
		establishment_id UUID NOT NULL REFERENCES profiles(id),
		status TEXT NOT NULL
			CHECK (status IN ('draft', 'available', 'pending', 'booked', 'completed', 'cancelled')),
		payment_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (payment_status IN ('pending', 'paid', 'failed', 'refunded')),
		total_amount_cents BIGINT NOT NULL DEFAULT 0,
		stripe_session_id TEXT,
		stripe_payment_intent_id TEXT,
		cancellation_reason TEXT,
		cancelled_by UUID,
		request_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE UNIQUE INDEX IF NOT EXISTS uq_bookings_request_key ON bookings(establishment_id, request_key) WHERE request_key IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_bookings_vacation_status ON bookings(vacation_post_id, status);
	CREATE INDEX IF NOT EXISTS idx_bookings_doctor ON bookings(doctor_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_bookings_establishment ON bookings(establishment_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS reviews (
		id UUID PRIMARY KEY,
		booking_id UUID NOT NULL REFERENCES bookings(id),
		reviewer_id UUID NOT NULL,
		reviewee_id UUID NOT NULL,
		rating SMALLINT NOT NULL CHECK (rating BETWEEN 1 AND 5),
		comment TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (booking_id, reviewer_id)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		type TEXT NOT NULL,
		read_at TIMESTAMPTZ,
		related_booking_id UUID,
		related_urgent_request_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_notifications_user_unread ON notifications(user_id) WHERE read_at IS NULL;

	CREATE TABLE IF NOT EXISTS subscriptions (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		subscriber_type TEXT NOT NULL DEFAULT 'establishment',
		stripe_customer_id TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL,
		stripe_price_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		plan_type TEXT NOT NULL CHECK (plan_type IN ('essentiel', 'pro', 'premium')),
		current_period_start TIMESTAMPTZ,
		current_period_end TIMESTAMPTZ,
		cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, stripe_subscription_id)
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_id ON subscriptions(stripe_subscription_id);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_customer ON subscriptions(stripe_customer_id);

	CREATE TABLE IF NOT EXISTS urgent_requests (
		id UUID PRIMARY KEY,
		establishment_id UUID NOT NULL REFERENCES profiles(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		speciality TEXT NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		end_date TIMESTAMPTZ NOT NULL,
		hourly_rate_cents BIGINT NOT NULL DEFAULT 0,
		urgency_level TEXT NOT NULL CHECK (urgency_level IN ('medium', 'high', 'critical')),
		status TEXT NOT NULL DEFAULT 'open'
			CHECK (status IN ('open', 'in_progress', 'filled', 'cancelled', 'expired')),
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_urgent_requests_status ON urgent_requests(status, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_urgent_requests_expiry ON urgent_requests(expires_at) WHERE status IN ('open', 'in_progress');

	CREATE TABLE IF NOT EXISTS urgent_request_responses (
		id UUID PRIMARY KEY,
		request_id UUID NOT NULL REFERENCES urgent_requests(id),
		doctor_id UUID NOT NULL REFERENCES profiles(id),
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'accepted', 'rejected', 'withdrawn')),
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (request_id, doctor_id)
	);

	CREATE TABLE IF NOT EXISTS monitoring_errors (
		id UUID PRIMARY KEY,
		message TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		severity TEXT NOT NULL,
		stack TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		context JSONB,
		occurred_at TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_monitoring_errors_received ON monitoring_errors(received_at);

	CREATE TABLE IF NOT EXISTS performance_metrics (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		value DOUBLE PRECISION NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		occurred_at TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_performance_metrics_received ON performance_metrics(received_at);

	CREATE TABLE IF NOT EXISTS event_outbox (
		id BIGSERIAL PRIMARY KEY,
		exchange TEXT NOT NULL,
		routing_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing', 'published')),
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processing_started_at TIMESTAMPTZ,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		published_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_event_outbox_pending ON event_outbox(status, next_attempt_at);
`
