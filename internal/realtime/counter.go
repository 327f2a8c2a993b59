package realtime

import (
	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
)

// UnreadCounter holds one unread count per connected user. Every tab of a user
// reads the same value, so counts never drift between tabs. It is guarded by
// the hub's lock.
type UnreadCounter struct {
	counts map[uuid.UUID]int
}

func NewUnreadCounter() *UnreadCounter {
	return &UnreadCounter{counts: make(map[uuid.UUID]int)}
}

func (c *UnreadCounter) Tracks(userID uuid.UUID) bool {
	_, ok := c.counts[userID]
	return ok
}

// Seed starts tracking userID at n. An already tracked user keeps its count.
func (c *UnreadCounter) Seed(userID uuid.UUID, n int) {
	if c.Tracks(userID) {
		return
	}
	c.counts[userID] = max(n, 0)
}

// Reset overwrites a tracked user's count. Untracked users are ignored.
func (c *UnreadCounter) Reset(userID uuid.UUID, n int) {
	if c.Tracks(userID) {
		c.counts[userID] = max(n, 0)
	}
}

func (c *UnreadCounter) Get(userID uuid.UUID) int {
	return c.counts[userID]
}

func (c *UnreadCounter) Forget(userID uuid.UUID) {
	delete(c.counts, userID)
}

// Apply folds a change into its user's count. Changes for users nobody is
// watching are ignored and report false.
func (c *UnreadCounter) Apply(change domain.NotificationChange) (int, bool) {
	n, ok := c.counts[change.UserID]
	if !ok {
		return 0, false
	}
	if change.Op == domain.ChangeReadAll {
		n = 0
	} else {
		n = max(n+Delta(change), 0)
	}
	c.counts[change.UserID] = n
	return n, true
}

// Delta is the unread-count effect of a single change. Deleting a read
// notification and re-reading a read one leave the count alone.
func Delta(change domain.NotificationChange) int {
	switch change.Op {
	case domain.ChangeInsert:
		if change.Notification != nil && !change.Notification.IsRead() {
			return 1
		}
	case domain.ChangeUpdate:
		if change.Previous != nil && !change.Previous.IsRead() && change.Notification != nil && change.Notification.IsRead() {
			return -1
		}
	case domain.ChangeDelete:
		if change.Previous != nil && !change.Previous.IsRead() {
			return -1
		}
	}
	return 0
}
