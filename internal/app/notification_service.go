package app

import (
	"context"
	"log/slog"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/store"
	"github.com/google/uuid"
)

// NotificationService serves a user's inbox. Reads go straight to the store;
// every mutation also enqueues the change event for realtime subscribers.
type NotificationService struct {
	store  store.Store
	events *EventWriter
	logger *slog.Logger
}

func NewNotificationService(st store.Store, events *EventWriter, logger *slog.Logger) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationService{store: st, events: events, logger: logger.With("component", "notification_service")}
}

func (s *NotificationService) List(ctx context.Context, actor Actor, opts domain.NotificationListOptions) ([]domain.Notification, error) {
	return s.store.ListNotifications(ctx, actor.ID, opts)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.CountUnreadNotifications(ctx, userID)
}

// MarkRead is monotonic: a notification never becomes unread again, and marking
// an already-read row emits no change.
func (s *NotificationService) MarkRead(ctx context.Context, actor Actor, id uuid.UUID) (*domain.Notification, error) {
	var result *domain.Notification
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		n, wasUnread, err := repo.MarkNotificationRead(ctx, actor.ID, id)
		if err != nil {
			return err
		}
		result = n
		if !wasUnread {
			return nil
		}
		previous := *n
		previous.ReadAt = nil
		return s.events.Change(ctx, repo, domain.NotificationChange{
			Op:           domain.ChangeUpdate,
			UserID:       actor.ID,
			Notification: n,
			Previous:     &previous,
		})
	})
	if err != nil {
		return nil, translateStoreErr(err)
	}
	return result, nil
}

// MarkAllRead returns how many notifications changed state.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor Actor) (int64, error) {
	var changed int64
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		n, err := repo.MarkAllNotificationsRead(ctx, actor.ID)
		if err != nil {
			return err
		}
		changed = n
		if n == 0 {
			return nil
		}
		return s.events.Change(ctx, repo, domain.NotificationChange{
			Op:     domain.ChangeReadAll,
			UserID: actor.ID,
		})
	})
	if err != nil {
		return 0, translateStoreErr(err)
	}
	return changed, nil
}

// Delete removes a notification; only its recipient may do so.
func (s *NotificationService) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	err := s.store.WithinTx(ctx, func(repo store.Repository) error {
		removed, err := repo.DeleteNotification(ctx, actor.ID, id)
		if err != nil {
			return err
		}
		return s.events.Change(ctx, repo, domain.NotificationChange{
			Op:       domain.ChangeDelete,
			UserID:   actor.ID,
			Previous: removed,
		})
	})
	return translateStoreErr(err)
}
