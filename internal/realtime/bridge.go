package realtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/pkg/rabbitmq"
	"github.com/goccy/go-json"
)

var errConsumerClosed = errors.New("realtime consumer stream closed")

// Bridge feeds inbox changes from the event exchange into the local hub. Each
// API instance binds its own exclusive queue so every instance sees every change.
type Bridge struct {
	amqpURL  string
	exchange string
	hub      *Hub
	logger   *slog.Logger
}

func NewBridge(amqpURL, exchange string, hub *Hub, logger *slog.Logger) *Bridge {
	if exchange == "" {
		exchange = domain.DefaultEventExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{amqpURL: amqpURL, exchange: exchange, hub: hub, logger: logger.With("component", "realtime_bridge")}
}

// Serve consumes until ctx ends or the broker drops the connection; the
// supervisor restarts it in the latter case.
func (b *Bridge) Serve(ctx context.Context) error {
	consumer, err := rabbitmq.NewConsumer(b.amqpURL, b.logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	bindings := map[string]rabbitmq.Handler{domain.RoutingNotificationAll: b.Handle}
	if err := consumer.ConsumeWithBindings(b.exchange, "", bindings, rabbitmq.QueueOptions{Exclusive: true, Prefetch: 100}); err != nil {
		return err
	}
	b.logger.Info("realtime bridge consuming", "exchange", b.exchange, "binding", domain.RoutingNotificationAll)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-consumer.Done():
		return errConsumerClosed
	}
}

func (b *Bridge) String() string {
	return "realtime-bridge"
}

// Handle decodes one change and hands it to the hub. Undecodable payloads are
// acknowledged and dropped.
func (b *Bridge) Handle(body []byte) bool {
	var change domain.NotificationChange
	if err := json.Unmarshal(body, &change); err != nil {
		b.logger.Error("discarding malformed notification change", "error", err)
		return true
	}
	b.hub.Publish(change)
	return true
}
