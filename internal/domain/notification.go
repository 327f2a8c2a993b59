package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationBookingRequest         NotificationType = "booking_request"
	NotificationBookingAccepted        NotificationType = "booking_accepted"
	NotificationBookingRejected        NotificationType = "booking_rejected"
	NotificationBookingCancelled       NotificationType = "booking_cancelled"
	NotificationBookingCompleted       NotificationType = "booking_completed"
	NotificationPaymentReceived        NotificationType = "payment_received"
	NotificationPaymentFailed          NotificationType = "payment_failed"
	NotificationUrgentResponse         NotificationType = "urgent_request_response"
	NotificationUrgentResponseAccepted NotificationType = "urgent_response_accepted"
	NotificationUrgentResponseRejected NotificationType = "urgent_response_rejected"
	NotificationUrgentRequestCancelled NotificationType = "urgent_request_cancelled"
	NotificationUrgentRequestExpired   NotificationType = "urgent_request_expired"
	NotificationSubscriptionUpdated    NotificationType = "subscription_updated"
	NotificationReviewReceived         NotificationType = "review_received"
)

// Notification is a single-recipient inbox row.
type Notification struct {
	ID                     uuid.UUID        `json:"id"`
	UserID                 uuid.UUID        `json:"user_id"`
	Title                  string           `json:"title"`
	Message                string           `json:"message"`
	Type                   NotificationType `json:"type"`
	ReadAt                 *time.Time       `json:"read_at,omitempty"`
	RelatedBookingID       *uuid.UUID       `json:"related_booking_id,omitempty"`
	RelatedUrgentRequestID *uuid.UUID       `json:"related_urgent_request_id,omitempty"`
	CreatedAt              time.Time        `json:"created_at"`
}

func (n Notification) IsRead() bool {
	return n.ReadAt != nil
}

// NewNotification is the write-side shape handed to the store.
type NewNotification struct {
	UserID                 uuid.UUID
	Title                  string
	Message                string
	Type                   NotificationType
	RelatedBookingID       *uuid.UUID
	RelatedUrgentRequestID *uuid.UUID
}

type NotificationListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

type ChangeOp string

const (
	ChangeInsert  ChangeOp = "INSERT"
	ChangeUpdate  ChangeOp = "UPDATE"
	ChangeDelete  ChangeOp = "DELETE"
	ChangeReadAll ChangeOp = "READ_ALL"
)

// NotificationChange is the change-feed record pushed to subscribers of a user's inbox.
// OpID echoes the client operation that caused the change, when one was supplied.
type NotificationChange struct {
	Op           ChangeOp      `json:"op"`
	UserID       uuid.UUID     `json:"user_id"`
	Notification *Notification `json:"notification,omitempty"`
	Previous     *Notification `json:"previous,omitempty"`
	OpID         string        `json:"op_id,omitempty"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// RoutingKey maps a change to its topic on the event exchange.
func (c NotificationChange) RoutingKey() string {
	switch c.Op {
	case ChangeInsert:
		return RoutingNotificationCreated
	case ChangeUpdate:
		return RoutingNotificationUpdated
	case ChangeDelete:
		return RoutingNotificationDeleted
	default:
		return RoutingNotificationReadAll
	}
}
