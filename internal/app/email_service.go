package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/cureliah/backend/pkg/emailclient"
)

// EmailRenderer renders a named template into an HTML body.
type EmailRenderer interface {
	Render(name string, data map[string]any) (string, error)
}

type SendEmailInput struct {
	Type domain.EmailTemplate `json:"type" validate:"required"`
	To   string               `json:"to" validate:"required,email"`
	Data map[string]any       `json:"data"`
}

// EmailService renders transactional templates and hands them to the provider.
type EmailService struct {
	renderer EmailRenderer
	sender   emailclient.Sender
	profiles *ProfileDirectory
	logger   *slog.Logger
}

func NewEmailService(renderer EmailRenderer, sender emailclient.Sender, profiles *ProfileDirectory, logger *slog.Logger) *EmailService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailService{
		renderer: renderer,
		sender:   sender,
		profiles: profiles,
		logger:   logger.With("component", "email_service"),
	}
}

// Send renders in.Type with in.Data and delivers it to in.To, returning the
// provider message id.
func (s *EmailService) Send(ctx context.Context, in SendEmailInput) (string, error) {
	if !in.Type.Valid() {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownTemplate, in.Type)
	}
	to := strings.TrimSpace(in.To)
	if to == "" || !strings.Contains(to, "@") {
		return "", domain.NewValidationError("to", "must be a valid email address")
	}

	html, err := s.renderer.Render(string(in.Type), in.Data)
	if err != nil {
		if errors.Is(err, emailclient.ErrUnknownTemplate) {
			return "", fmt.Errorf("%w: %q", domain.ErrUnknownTemplate, in.Type)
		}
		return "", fmt.Errorf("render %s: %w", in.Type, err)
	}

	id, err := s.sender.Send(ctx, emailclient.Message{To: to, Subject: in.Type.Subject(), HTML: html})
	if err != nil {
		metrics.EmailsSent.WithLabelValues(string(in.Type), "error").Inc()
		return "", fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	metrics.EmailsSent.WithLabelValues(string(in.Type), "sent").Inc()
	s.logger.Info("email sent", "template", in.Type, "to", to, "message_id", id)
	return id, nil
}

// SendJob delivers a queued job, resolving the recipient from its user id when
// no address was given.
func (s *EmailService) SendJob(ctx context.Context, job domain.EmailJob) (string, error) {
	to := strings.TrimSpace(job.To)
	data := job.Data
	if to == "" && job.UserID != nil && s.profiles != nil {
		profile, err := s.profiles.Lookup(ctx, *job.UserID)
		if err != nil {
			return "", fmt.Errorf("resolve email recipient %s: %w", job.UserID, err)
		}
		to = profile.Email
		if _, ok := data["recipient_name"]; !ok && profile.FullName != "" {
			data = withValue(data, "recipient_name", profile.FullName)
		}
	}
	return s.Send(ctx, SendEmailInput{Type: job.Template, To: to, Data: data})
}

func withValue(data map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	out[key] = value
	return out
}
