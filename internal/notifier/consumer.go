package notifier

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/pkg/rabbitmq"
	"github.com/goccy/go-json"
)

const (
	handleTimeout = 20 * time.Second
	requeueDelay  = 2 * time.Second
)

// Mailer is the email service slice the consumer drives.
type Mailer interface {
	SendJob(ctx context.Context, job domain.EmailJob) (string, error)
}

// EmailConsumer turns domain events into transactional emails.
type EmailConsumer struct {
	mailer       Mailer
	dashboardURL string
	logger       *slog.Logger
	sleep        func(time.Duration)
}

func NewEmailConsumer(mailer Mailer, appBaseURL string, logger *slog.Logger) *EmailConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	dashboard := ""
	if appBaseURL != "" {
		dashboard = appBaseURL + "/dashboard"
	}
	return &EmailConsumer{
		mailer:       mailer,
		dashboardURL: dashboard,
		logger:       logger.With("component", "notifier"),
		sleep:        time.Sleep,
	}
}

// Bindings maps the routing keys this consumer handles to their handlers.
func (c *EmailConsumer) Bindings() map[string]rabbitmq.Handler {
	return map[string]rabbitmq.Handler{
		domain.RoutingNotificationCreated: c.HandleNotificationCreated,
		domain.RoutingEmailSend:           c.HandleEmailJob,
	}
}

// HandleNotificationCreated emails the recipient of notification types that
// have an email counterpart; other types are acknowledged untouched.
func (c *EmailConsumer) HandleNotificationCreated(body []byte) bool {
	var change domain.NotificationChange
	if err := json.Unmarshal(body, &change); err != nil {
		c.logger.Error("failed to unmarshal notification change", "error", err)
		return true
	}
	if change.Op != domain.ChangeInsert || change.Notification == nil {
		return true
	}
	n := change.Notification
	template, ok := domain.TemplateForNotification(n.Type)
	if !ok {
		return true
	}

	data := map[string]any{
		"title":   n.Title,
		"message": n.Message,
	}
	if n.RelatedBookingID != nil {
		data["booking_id"] = n.RelatedBookingID.String()
	}
	if c.dashboardURL != "" {
		data["dashboard_url"] = c.dashboardURL
	}
	userID := n.UserID
	return c.deliver(domain.EmailJob{Template: template, UserID: &userID, Data: data})
}

// HandleEmailJob sends an explicitly queued email job.
func (c *EmailConsumer) HandleEmailJob(body []byte) bool {
	var job domain.EmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		c.logger.Error("failed to unmarshal email job", "error", err)
		return true
	}
	if job.To == "" && job.UserID == nil {
		c.logger.Warn("email job has no recipient; dropping", "template", job.Template)
		return true
	}
	return c.deliver(job)
}

// deliver acknowledges sent and permanently failing jobs. Transient failures
// are requeued after a short pause so a provider outage does not spin the queue.
func (c *EmailConsumer) deliver(job domain.EmailJob) bool {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	id, err := c.mailer.SendJob(ctx, job)
	if err == nil {
		c.logger.Info("email delivered", "template", job.Template, "message_id", id)
		return true
	}
	if permanentFailure(err) {
		c.logger.Warn("dropping undeliverable email", "template", job.Template, "error", err)
		return true
	}
	c.logger.Error("email delivery failed; requeuing", "template", job.Template, "error", err)
	c.sleep(requeueDelay)
	return false
}

func permanentFailure(err error) bool {
	if _, ok := domain.IsValidation(err); ok {
		return true
	}
	return errors.Is(err, domain.ErrUnknownTemplate) || errors.Is(err, domain.ErrNotFound)
}
