package rabbitmq

import (
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one delivery body. Returning false requeues the message.
type Handler func([]byte) bool

// QueueOptions controls the declared queue. The zero value is a durable, shared queue.
type QueueOptions struct {
	// Exclusive declares a server-named, auto-deleted queue owned by this connection.
	Exclusive bool
	Prefetch  int
}

type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *slog.Logger
	done   chan struct{}
}

func NewConsumer(amqpURL string, logger *slog.Logger) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
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
	return &Consumer{conn: conn, ch: ch, logger: logger, done: make(chan struct{})}, nil
}

// ConsumeWithBindings declares the queue, binds every routing key and dispatches
// deliveries to the matching handler. Patterns are matched with topic semantics.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]Handler, opts QueueOptions) error {
	if len(bindings) == 0 {
		return fmt.Errorf("no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	var (
		q   amqp.Queue
		err error
	)
	if opts.Exclusive {
		q, err = c.ch.QueueDeclare("", false, true, true, false, nil)
	} else {
		q, err = c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	}
	if err != nil {
		return err
	}

	if opts.Prefetch > 0 {
		if err := c.ch.Qos(opts.Prefetch, 0, false); err != nil {
			return err
		}
	}

	handlers := make(map[string]Handler)
	for pattern, handler := range bindings {
		if handler == nil {
			continue
		}
		handlers[pattern] = handler
		if err := c.ch.QueueBind(q.Name, pattern, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, opts.Exclusive, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		defer close(c.done)
		for d := range msgs {
			handler := matchHandler(handlers, d.RoutingKey)
			if handler == nil {
				c.logger.Warn("no handler for routing key; acknowledging to drop", "component", "rabbitmq_consumer", "routing_key", d.RoutingKey)
				d.Ack(false)
				continue
			}
			if handler(d.Body) {
				d.Ack(false)
			} else {
				c.logger.Warn("handler failed; re-queuing", "component", "rabbitmq_consumer", "routing_key", d.RoutingKey)
				d.Nack(false, true)
			}
		}
	}()

	return nil
}

// Done is closed when the delivery stream ends (channel or connection closed).
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func matchHandler(handlers map[string]Handler, routingKey string) Handler {
	if h, ok := handlers[routingKey]; ok {
		return h
	}
	for pattern, h := range handlers {
		if TopicMatches(pattern, routingKey) {
			return h
		}
	}
	return nil
}

// TopicMatches implements AMQP topic matching: "*" is one word, "#" is zero or more.
func TopicMatches(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
