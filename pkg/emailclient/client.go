/**
 * @description
 * This package sends transactional email through the Resend HTTP API. Outbound
 * calls are throttled with a token bucket to stay under the provider's rate limit
 * and wrapped in a circuit breaker so a provider outage fails fast.
 *
 * @dependencies
 * - github.com/resend/resend-go/v2: the Resend SDK.
 * - github.com/sony/gobreaker/v2: circuit breaker.
 * - golang.org/x/time/rate: send throttling.
 */
package emailclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// Message is a rendered email ready to send.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender is implemented by anything that can deliver a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Config holds the provider credentials and throttling knobs.
type Config struct {
	APIKey        string
	From          string
	RatePerSecond float64
	OnStateChange func(name string, from, to gobreaker.State)
}

// Client delivers messages via Resend.
type Client struct {
	resend  *resend.Client
	from    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	logger  *slog.Logger
}

// NewClient returns a Resend-backed sender. When no API key is configured it
// returns a LogSender so local environments never reach the provider.
func NewClient(cfg Config, logger *slog.Logger) Sender {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Warn("RESEND_API_KEY not set; emails will be logged only", "component", "email_client")
		return &LogSender{Logger: logger}
	}

	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 2
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		resend:  resend.NewClient(cfg.APIKey),
		from:    cfg.From,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "resend",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed", "component", "email_client", "breaker", name, "from", from.String(), "to", to.String())
				if cfg.OnStateChange != nil {
					cfg.OnStateChange(name, from, to)
				}
			},
		}),
		logger: logger,
	}
}

// Send waits for a rate-limit token and delivers msg, returning the provider message id.
func (c *Client) Send(ctx context.Context, msg Message) (string, error) {
	if err := validateMessage(msg); err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("email rate limiter: %w", err)
	}

	id, err := c.breaker.Execute(func() (string, error) {
		resp, err := c.resend.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
			From:    c.from,
			To:      []string{msg.To},
			Subject: msg.Subject,
			Html:    msg.HTML,
		})
		if err != nil {
			return "", err
		}
		return resp.Id, nil
	})
	if err != nil {
		return "", fmt.Errorf("send email to %s: %w", msg.To, err)
	}
	return id, nil
}

// LogSender logs messages instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := validateMessage(msg); err != nil {
		return "", err
	}
	s.Logger.Info("email send skipped", "component", "email_client", "mode", "log", "to", msg.To, "subject", msg.Subject)
	return "", nil
}

func validateMessage(msg Message) error {
	if strings.TrimSpace(msg.To) == "" || !strings.Contains(msg.To, "@") {
		return errors.New("emailclient: invalid recipient")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return errors.New("emailclient: empty subject")
	}
	return nil
}
