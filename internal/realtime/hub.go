/**
 * @description
 * Websocket fan-out of inbox changes. Clients are grouped by user; every change
 * is stamped with the user's authoritative unread count before it is pushed.
 *
 * @dependencies
 * - github.com/gorilla/websocket: client connections (client.go)
 * - internal/metrics: connected clients and dropped messages
 */

package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/cureliah/backend/internal/metrics"
	"github.com/google/uuid"
)

const (
	MessageTypeSnapshot     = "snapshot"
	MessageTypeNotification = "notification"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"

	changeBuffer   = 256
	resyncInterval = 30 * time.Second
)

// Message is the frame pushed to browsers.
type Message struct {
	Type         string               `json:"type"`
	Op           domain.ChangeOp      `json:"op,omitempty"`
	Notification *domain.Notification `json:"notification,omitempty"`
	Previous     *domain.Notification `json:"previous,omitempty"`
	UnreadCount  int                  `json:"unread_count"`
	OpID         string               `json:"op_id,omitempty"`
}

// UnreadSource seeds a user's counter when their first tab connects.
type UnreadSource interface {
	CountUnreadNotifications(ctx context.Context, userID uuid.UUID) (int, error)
}

type Hub struct {
	source  UnreadSource
	logger  *slog.Logger
	changes chan domain.NotificationChange
	resync  chan struct{}

	mu      sync.Mutex
	clients map[uuid.UUID]map[*Client]struct{}
	counter *UnreadCounter
	// stale holds users whose count missed a dropped change.
	stale map[uuid.UUID]struct{}
}

func NewHub(source UnreadSource, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		source:  source,
		logger:  logger.With("component", "realtime"),
		changes: make(chan domain.NotificationChange, changeBuffer),
		resync:  make(chan struct{}, 1),
		clients: make(map[uuid.UUID]map[*Client]struct{}),
		counter: NewUnreadCounter(),
		stale:   make(map[uuid.UUID]struct{}),
	}
}

// Serve delivers queued changes until ctx is cancelled, then disconnects
// every client. Users whose count missed a change are re-seeded from the store.
func (h *Hub) Serve(ctx context.Context) error {
	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			closed := h.closeAll()
			h.logger.Info("realtime hub stopped", "clients_closed", closed)
			return ctx.Err()
		case change := <-h.changes:
			h.deliver(change)
		case <-h.resync:
			h.drain()
			h.resyncStale(ctx)
		case <-ticker.C:
			h.resyncStale(ctx)
		}
	}
}

func (h *Hub) String() string {
	return "realtime-hub"
}

// Publish queues a change for delivery. It never blocks; a full queue drops the
// change and schedules a re-seed of that user's count.
func (h *Hub) Publish(change domain.NotificationChange) {
	select {
	case h.changes <- change:
	default:
		metrics.RealtimeDropped.Inc()
		h.logger.Warn("change queue full; dropping event", "user_id", change.UserID, "op", change.Op)
		h.markStale(change.UserID)
	}
}

func (h *Hub) markStale(userID uuid.UUID) {
	h.mu.Lock()
	if !h.counter.Tracks(userID) {
		h.mu.Unlock()
		return
	}
	h.stale[userID] = struct{}{}
	h.mu.Unlock()
	select {
	case h.resync <- struct{}{}:
	default:
	}
}

// drain delivers the changes already queued so a re-seed is not followed by
// older deltas.
func (h *Hub) drain() {
	for {
		select {
		case change := <-h.changes:
			h.deliver(change)
		default:
			return
		}
	}
}

// resyncStale replaces stale counts with the store's value and pushes a fresh
// snapshot to every tab of those users. Failed lookups stay stale for the next
// tick.
func (h *Hub) resyncStale(ctx context.Context) {
	h.mu.Lock()
	users := make([]uuid.UUID, 0, len(h.stale))
	for userID := range h.stale {
		users = append(users, userID)
	}
	clear(h.stale)
	h.mu.Unlock()

	for _, userID := range users {
		n, err := h.source.CountUnreadNotifications(ctx, userID)
		h.mu.Lock()
		switch {
		case err != nil:
			if h.counter.Tracks(userID) {
				h.stale[userID] = struct{}{}
			}
			h.logger.Warn("unread count resync failed", "user_id", userID, "error", err)
		case h.counter.Tracks(userID):
			h.counter.Reset(userID, n)
			h.broadcastLocked(userID, Message{Type: MessageTypeSnapshot, UnreadCount: h.counter.Get(userID)})
			h.logger.Info("unread count resynced", "user_id", userID, "unread_count", n)
		}
		h.mu.Unlock()
	}
}

// Attach registers c and sends it the current unread snapshot. The counter is
// seeded from the store only when c is the user's first connection.
func (h *Hub) Attach(ctx context.Context, c *Client) error {
	h.mu.Lock()
	tracked := h.counter.Tracks(c.userID)
	h.mu.Unlock()

	seed := 0
	if !tracked {
		n, err := h.source.CountUnreadNotifications(ctx, c.userID)
		if err != nil {
			return err
		}
		seed = n
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.counter.Seed(c.userID, seed)
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	metrics.RealtimeClients.Inc()

	c.send <- Message{Type: MessageTypeSnapshot, UnreadCount: h.counter.Get(c.userID)}
	h.logger.Info("realtime client connected", "user_id", c.userID, "tabs", len(set))
	return nil
}

// Detach removes c. The user's counter is dropped with their last connection.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}

// UnreadCount reports the tracked count for userID, if any tab is connected.
func (h *Hub) UnreadCount(userID uuid.UUID) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.counter.Tracks(userID) {
		return 0, false
	}
	return h.counter.Get(userID), true
}

func (h *Hub) deliver(change domain.NotificationChange) {
	h.mu.Lock()
	defer h.mu.Unlock()

	count, ok := h.counter.Apply(change)
	if !ok {
		return
	}
	h.broadcastLocked(change.UserID, Message{
		Type:         MessageTypeNotification,
		Op:           change.Op,
		Notification: change.Notification,
		Previous:     change.Previous,
		UnreadCount:  count,
		OpID:         change.OpID,
	})
}

// broadcastLocked sends msg to every tab of userID, disconnecting tabs whose
// buffer is full.
func (h *Hub) broadcastLocked(userID uuid.UUID, msg Message) {
	var slow []*Client
	for _, c := range sortedClients(h.clients[userID]) {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		metrics.RealtimeDropped.Inc()
		h.logger.Warn("client send buffer full; disconnecting", "user_id", c.userID, "client_id", c.id)
		h.removeLocked(c)
	}
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	metrics.RealtimeClients.Dec()
	if len(set) == 0 {
		delete(h.clients, c.userID)
		h.counter.Forget(c.userID)
		delete(h.stale, c.userID)
	}
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	closed := 0
	for _, set := range h.clients {
		for _, c := range sortedClients(set) {
			h.removeLocked(c)
			closed++
		}
	}
	return closed
}

// sortedClients orders a user's tabs by connection order.
func sortedClients(set map[*Client]struct{}) []*Client {
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
