package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/internal/store"
	"github.com/goccy/go-json"
)

type opIDKey struct{}

// WithOpID tags ctx with the client operation id that triggered the request.
func WithOpID(ctx context.Context, opID string) context.Context {
	if opID == "" {
		return ctx
	}
	return context.WithValue(ctx, opIDKey{}, opID)
}

// OpIDFromContext returns the client operation id, or "".
func OpIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(opIDKey{}).(string); ok {
		return v
	}
	return ""
}

// EventWriter records notification rows and their change events in the caller's
// transaction. Nothing reaches the broker until the outbox dispatcher picks it up.
type EventWriter struct {
	exchange string
	now      func() time.Time
}

func NewEventWriter(exchange string) *EventWriter {
	if exchange == "" {
		exchange = domain.DefaultEventExchange
	}
	return &EventWriter{exchange: exchange, now: time.Now}
}

// Notify inserts a notification and enqueues its INSERT change.
func (w *EventWriter) Notify(ctx context.Context, repo store.Repository, in domain.NewNotification) (*domain.Notification, error) {
	created, err := repo.InsertNotification(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	if err := w.Change(ctx, repo, domain.NotificationChange{
		Op:           domain.ChangeInsert,
		UserID:       created.UserID,
		Notification: created,
	}); err != nil {
		return nil, err
	}
	metrics.NotificationsCreated.WithLabelValues(string(created.Type)).Inc()
	return created, nil
}

// Change enqueues a notification change, stamping the op id and time.
func (w *EventWriter) Change(ctx context.Context, repo store.Repository, change domain.NotificationChange) error {
	if change.OpID == "" {
		change.OpID = OpIDFromContext(ctx)
	}
	if change.OccurredAt.IsZero() {
		change.OccurredAt = w.now().UTC()
	}
	return w.Publish(ctx, repo, change.RoutingKey(), change)
}

// QueueEmail enqueues an email job for the notifier.
func (w *EventWriter) QueueEmail(ctx context.Context, repo store.Repository, job domain.EmailJob) error {
	return w.Publish(ctx, repo, domain.RoutingEmailSend, job)
}

func (w *EventWriter) Publish(ctx context.Context, repo store.Repository, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}
	if err := repo.EnqueueOutbox(ctx, w.exchange, routingKey, payload); err != nil {
		return fmt.Errorf("enqueue %s event: %w", routingKey, err)
	}
	return nil
}

// translateStoreErr maps store sentinels onto the domain errors handlers understand.
func translateStoreErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	case errors.Is(err, store.ErrStatusMismatch):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	}
	return err
}
