package domain

import "github.com/google/uuid"

const (
	DefaultEventExchange = "cureliah.events"

	RoutingNotificationCreated = "notification.created"
	RoutingNotificationUpdated = "notification.updated"
	RoutingNotificationDeleted = "notification.deleted"
	RoutingNotificationReadAll = "notification.read_all"
	RoutingEmailSend           = "email.send"

	// RoutingNotificationAll binds a queue to every inbox change.
	RoutingNotificationAll = "notification.*"
)

// EmailJob asks the notifier to render and send one transactional email.
type EmailJob struct {
	Template EmailTemplate  `json:"template"`
	To       string         `json:"to,omitempty"`
	UserID   *uuid.UUID     `json:"user_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}
