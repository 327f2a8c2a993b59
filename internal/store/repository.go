/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the services need, and `Store`, which adds transactional scoping. Services
 * depend on these interfaces so tests can substitute in-memory stubs.
 *
 * @dependencies
 * - github.com/google/uuid: identifiers.
 * - internal/domain: the domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: record not found")
	// ErrStatusMismatch is returned by guarded updates whose expected status no longer holds.
	ErrStatusMismatch = errors.New("store: status changed concurrently")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("store: duplicate record")
)

// BookingUpdate is applied with a guard on ExpectedStatus. Nil fields are left untouched.
type BookingUpdate struct {
	ExpectedStatus        domain.BookingStatus
	Status                *domain.BookingStatus
	PaymentStatus         *domain.PaymentStatus
	StripeSessionID       *string
	StripePaymentIntentID *string
	CancellationReason    *string
	CancelledBy           *uuid.UUID
}

// OutboxMessage is a pending event awaiting publication to RabbitMQ.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Profiles
	GetProfile(ctx context.Context, id uuid.UUID) (*domain.Profile, error)

	// Vacation posts
	CreateVacation(ctx context.Context, v *domain.VacationPost) error
	GetVacation(ctx context.Context, id uuid.UUID) (*domain.VacationPost, error)
	GetVacationForUpdate(ctx context.Context, id uuid.UUID) (*domain.VacationPost, error)
	ListVacations(ctx context.Context, opts domain.VacationListOptions) ([]domain.VacationPost, error)
	UpdateVacationStatus(ctx context.Context, id uuid.UUID, status domain.VacationStatus) error

	// Bookings
	CreateBooking(ctx context.Context, b *domain.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	GetBookingForUpdate(ctx context.Context, id uuid.UUID) (*domain.Booking, error)
	FindBookingByRequestKey(ctx context.Context, establishmentID uuid.UUID, requestKey string) (*domain.Booking, error)
	FindBookingByPaymentRef(ctx context.Context, sessionID, paymentIntentID string) (*domain.Booking, error)
	HasLiveBooking(ctx context.Context, vacationID, establishmentID uuid.UUID) (bool, error)
	ListBookingsForUser(ctx context.Context, userID uuid.UUID, opts domain.BookingListOptions) ([]domain.Booking, error)
	ListPendingBookingsForVacation(ctx context.Context, vacationID uuid.UUID, excludeBookingID uuid.UUID) ([]domain.Booking, error)
	UpdateBooking(ctx context.Context, id uuid.UUID, update BookingUpdate) (*domain.Booking, error)

	// Reviews
	CreateReview(ctx context.Context, r *domain.Review) error

	// Notifications
	InsertNotification(ctx context.Context, n domain.NewNotification) (*domain.Notification, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error)
	MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) (n *domain.Notification, wasUnread bool, err error)
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteNotification(ctx context.Context, userID, id uuid.UUID) (*domain.Notification, error)

	// Subscriptions
	UpsertSubscription(ctx context.Context, s *domain.Subscription) (*domain.Subscription, error)
	GetSubscription(ctx context.Context, userID uuid.UUID, stripeSubscriptionID string) (*domain.Subscription, error)
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)
	FindSubscriptionByCustomerID(ctx context.Context, stripeCustomerID string) (*domain.Subscription, error)
	ListSubscriptions(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error)

	// Urgent requests
	CreateUrgentRequest(ctx context.Context, r *domain.UrgentRequest) error
	GetUrgentRequest(ctx context.Context, id uuid.UUID) (*domain.UrgentRequest, error)
	GetUrgentRequestForUpdate(ctx context.Context, id uuid.UUID) (*domain.UrgentRequest, error)
	ListOpenUrgentRequests(ctx context.Context, opts domain.UrgentListOptions) ([]domain.UrgentRequest, error)
	ListUrgentRequestsByEstablishment(ctx context.Context, establishmentID uuid.UUID) ([]domain.UrgentRequest, error)
	UpdateUrgentRequestStatus(ctx context.Context, id uuid.UUID, from, to domain.UrgentRequestStatus) error
	ClaimDueUrgentRequests(ctx context.Context, now time.Time, limit int) ([]domain.UrgentRequest, error)
	CreateUrgentResponse(ctx context.Context, r *domain.UrgentResponse) error
	GetUrgentResponseForUpdate(ctx context.Context, id uuid.UUID) (*domain.UrgentResponse, error)
	ListUrgentResponses(ctx context.Context, requestID uuid.UUID, status domain.UrgentResponseStatus) ([]domain.UrgentResponse, error)
	UpdateUrgentResponseStatus(ctx context.Context, id uuid.UUID, from, to domain.UrgentResponseStatus) error

	// Monitoring
	InsertErrorReport(ctx context.Context, r *domain.ErrorReport) error
	InsertPerformanceMetric(ctx context.Context, m *domain.PerformanceMetric) error
	PruneMonitoring(ctx context.Context, before time.Time) (int64, error)

	// Outbox
	EnqueueOutbox(ctx context.Context, exchange, routingKey string, payload []byte) error
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// Store is a Repository that can scope a unit of work to one transaction.
type Store interface {
	Repository
	// WithinTx runs fn against a transactional Repository, committing when fn returns nil.
	WithinTx(ctx context.Context, fn func(Repository) error) error
}
