package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/internal/store"
	"github.com/cureliah/backend/pkg/rabbitmq"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
)

// OutboxRepository is the slice of the store the dispatcher drains.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// DialPublisher opens a broker connection; it is called lazily and again after
// every publish failure.
type DialPublisher func() (rabbitmq.Publisher, error)

// OutboxDispatcher publishes committed outbox rows to RabbitMQ.
type OutboxDispatcher struct {
	repo                OutboxRepository
	dial                DialPublisher
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	producer            rabbitmq.Publisher
	logger              *slog.Logger
}

func NewOutboxDispatcher(repo OutboxRepository, dial DialPublisher, pollInterval time.Duration, logger *slog.Logger) *OutboxDispatcher {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutboxDispatcher{
		repo:                repo,
		dial:                dial,
		batchSize:           defaultBatchSize,
		pollInterval:        pollInterval,
		staleProcessingTime: defaultStaleProcessing,
		logger:              logger.With("component", "outbox"),
	}
}

// Serve runs until ctx is cancelled.
func (d *OutboxDispatcher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	defer d.closeProducer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.flushOnce(ctx); err != nil {
				d.logger.Error("outbox flush failed", "error", err)
			}
		}
	}
}

func (d *OutboxDispatcher) String() string {
	return "outbox-dispatcher"
}

func (d *OutboxDispatcher) flushOnce(ctx context.Context) error {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return err
	}

	for _, message := range messages {
		if err := d.publishMessage(ctx, message); err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			metrics.OutboxPublished.WithLabelValues("retry").Inc()
			d.logger.Warn("outbox publish failed", "id", message.ID, "routing_key", message.RoutingKey, "attempts", message.Attempts, "retry_after_s", retryAfter, "error", err)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				d.logger.Error("failed to reschedule outbox message", "id", message.ID, "error", markErr)
			}
			continue
		}
		metrics.OutboxPublished.WithLabelValues("published").Inc()
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.logger.Error("failed to mark outbox message published", "id", message.ID, "error", err)
		}
	}
	return nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if d.producer == nil {
		producer, err := d.dial()
		if err != nil {
			return err
		}
		d.producer = producer
	}

	if err := d.producer.PublishJSON(ctx, message.Exchange, message.RoutingKey, message.Payload); err != nil {
		d.closeProducer()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closeProducer() {
	if d.producer != nil {
		d.producer.Close()
		d.producer = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 8)
	if delay > 300 {
		return 300
	}
	return delay
}
