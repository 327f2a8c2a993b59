/**
 * @description
 * A small producer for publishing JSON messages to durable topic exchanges.
 * The channel is reopened once on failure before the error is surfaced.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: the RabbitMQ client library.
 * - github.com/goccy/go-json: payload encoding.
 */
package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"
)

// Publisher is implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
	PublishJSON(ctx context.Context, exchange, routingKey string, payload []byte) error
	Close()
}

// EventProducer holds the RabbitMQ connection and channel for publishing messages.
type EventProducer struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  *slog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// Tolerate stray characters before the scheme.
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer dials RabbitMQ and opens a publishing channel.
func NewEventProducer(amqpURL string, logger *slog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &EventProducer{conn: conn, channel: ch, logger: logger}, nil
}

// Publish encodes body as JSON and publishes it.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		p.logger.Error("json marshal failed", "component", "rabbitmq_producer", "exchange", exchange, "routing_key", routingKey, "error", err)
		return err
	}
	return p.PublishJSON(ctx, exchange, routingKey, payload)
}

// PublishJSON publishes an already-encoded JSON payload.
func (p *EventProducer) PublishJSON(ctx context.Context, exchange, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.publishLocked(ctx, exchange, routingKey, payload)
	if err == nil {
		return nil
	}

	p.logger.Warn("publish failed; reopening channel", "component", "rabbitmq_producer", "exchange", exchange, "routing_key", routingKey, "error", err)
	if p.conn == nil || p.conn.IsClosed() {
		return err
	}
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return chErr
	}
	if p.channel != nil {
		_ = p.channel.Close()
	}
	p.channel = ch
	return p.publishLocked(ctx, exchange, routingKey, payload)
}

func (p *EventProducer) publishLocked(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if err := p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
}

// Close closes the channel and connection.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
