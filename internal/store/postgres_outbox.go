package store

import "context"

// EnqueueOutbox records an event in the caller's transaction; the dispatcher publishes it later.
func (r *PostgresRepository) EnqueueOutbox(ctx context.Context, exchange, routingKey string, payload []byte) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, exchange, routingKey, string(payload))
	return err
}

func (r *PostgresRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	rows, err := r.db.Query(ctx, `
		WITH candidates AS (
			SELECT id
			FROM event_outbox
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event_outbox AS o
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = o.attempts + 1
		FROM candidates
		WHERE o.id = candidates.id
		RETURNING o.id, o.exchange, o.routing_key, o.payload::text, o.attempts
	`, limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg         OutboxMessage
			payloadText string
		)
		if err := rows.Scan(&msg.ID, &msg.Exchange, &msg.RoutingKey, &payloadText, &msg.Attempts); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payloadText)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'published',
			published_at = NOW(),
			processing_started_at = NULL,
			last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

func (r *PostgresRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := r.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			processing_started_at = NULL,
			last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, reason)
	return err
}
