package notifier

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cureliah/backend/pkg/rabbitmq"
)

var errStreamClosed = errors.New("email consumer stream closed")

// Service binds the durable email queue and runs the consumer under the
// supervisor; a dropped broker connection ends Serve so it is restarted.
type Service struct {
	amqpURL  string
	exchange string
	queue    string
	consumer *EmailConsumer
	logger   *slog.Logger
}

func NewService(amqpURL, exchange, queue string, consumer *EmailConsumer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		amqpURL:  amqpURL,
		exchange: exchange,
		queue:    queue,
		consumer: consumer,
		logger:   logger.With("component", "notifier"),
	}
}

func (s *Service) Serve(ctx context.Context) error {
	c, err := rabbitmq.NewConsumer(s.amqpURL, s.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.ConsumeWithBindings(s.exchange, s.queue, s.consumer.Bindings(), rabbitmq.QueueOptions{Prefetch: 10}); err != nil {
		return err
	}
	s.logger.Info("email consumer started", "exchange", s.exchange, "queue", s.queue)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.Done():
		return errStreamClosed
	}
}

func (s *Service) String() string {
	return "email-consumer"
}
