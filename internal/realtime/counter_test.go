package realtime

import (
	"testing"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
)

func unread(userID uuid.UUID) *domain.Notification {
	return &domain.Notification{ID: uuid.New(), UserID: userID}
}

func read(userID uuid.UUID) *domain.Notification {
	now := time.Now()
	return &domain.Notification{ID: uuid.New(), UserID: userID, ReadAt: &now}
}

func TestUnreadCounterApply(t *testing.T) {
	user := uuid.New()
	tests := []struct {
		name   string
		start  int
		change domain.NotificationChange
		want   int
	}{
		{name: "insert unread", start: 2, change: domain.NotificationChange{Op: domain.ChangeInsert, Notification: unread(user)}, want: 3},
		{name: "insert already read", start: 2, change: domain.NotificationChange{Op: domain.ChangeInsert, Notification: read(user)}, want: 2},
		{name: "update unread to read", start: 2, change: domain.NotificationChange{Op: domain.ChangeUpdate, Previous: unread(user), Notification: read(user)}, want: 1},
		{name: "update read to read", start: 2, change: domain.NotificationChange{Op: domain.ChangeUpdate, Previous: read(user), Notification: read(user)}, want: 2},
		{name: "delete unread", start: 2, change: domain.NotificationChange{Op: domain.ChangeDelete, Previous: unread(user)}, want: 1},
		{name: "delete read", start: 2, change: domain.NotificationChange{Op: domain.ChangeDelete, Previous: read(user)}, want: 2},
		{name: "delete without previous", start: 2, change: domain.NotificationChange{Op: domain.ChangeDelete}, want: 2},
		{name: "read all", start: 5, change: domain.NotificationChange{Op: domain.ChangeReadAll}, want: 0},
		{name: "never negative", start: 0, change: domain.NotificationChange{Op: domain.ChangeDelete, Previous: unread(user)}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewUnreadCounter()
			c.Seed(user, tt.start)
			tt.change.UserID = user
			got, ok := c.Apply(tt.change)
			if !ok {
				t.Fatal("tracked user reported untracked")
			}
			if got != tt.want {
				t.Fatalf("count = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUnreadCounterIgnoresUntrackedUsers(t *testing.T) {
	c := NewUnreadCounter()
	user := uuid.New()
	if _, ok := c.Apply(domain.NotificationChange{Op: domain.ChangeInsert, UserID: user, Notification: unread(user)}); ok {
		t.Fatal("untracked user should be ignored")
	}
	if c.Tracks(user) {
		t.Fatal("Apply must not start tracking a user")
	}
}

func TestUnreadCounterSeedKeepsExistingCount(t *testing.T) {
	c := NewUnreadCounter()
	user := uuid.New()
	c.Seed(user, 4)
	c.Seed(user, 9)
	if got := c.Get(user); got != 4 {
		t.Fatalf("count = %d, want 4", got)
	}
	c.Forget(user)
	c.Seed(user, -3)
	if got := c.Get(user); got != 0 {
		t.Fatalf("negative seed should clamp to 0, got %d", got)
	}
}

func TestUnreadCounterReset(t *testing.T) {
	c := NewUnreadCounter()
	user := uuid.New()

	c.Reset(user, 4)
	if c.Tracks(user) {
		t.Fatal("Reset must not start tracking a user")
	}
	c.Seed(user, 1)
	c.Reset(user, 5)
	if got := c.Get(user); got != 5 {
		t.Fatalf("Get() = %d, want 5", got)
	}
	c.Reset(user, -3)
	if got := c.Get(user); got != 0 {
		t.Fatalf("Get() = %d, want 0 after negative reset", got)
	}
}
