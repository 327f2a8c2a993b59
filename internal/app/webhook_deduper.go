package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventDeduper remembers webhook events that were fully reconciled so
// redeliveries can be acknowledged without touching the database.
type EventDeduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

// RedisEventDeduper shares the processed-event set across API instances.
type RedisEventDeduper struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisEventDeduper(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisEventDeduper {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "cureliah:webhook"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisEventDeduper{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (d *RedisEventDeduper) key(eventID string) string {
	return fmt.Sprintf("%s:%s", d.prefix, eventID)
}

func (d *RedisEventDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if d == nil || d.client == nil || strings.TrimSpace(eventID) == "" {
		return false, nil
	}
	n, err := d.client.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisEventDeduper) Remember(ctx context.Context, eventID string) error {
	if d == nil || d.client == nil || strings.TrimSpace(eventID) == "" {
		return nil
	}
	return d.client.Set(ctx, d.key(eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Err()
}

// MemoryEventDeduper is the single-instance fallback when Redis is not configured.
type MemoryEventDeduper struct {
	mu        sync.Mutex
	ttl       time.Duration
	processed map[string]time.Time
	now       func() time.Time
}

func NewMemoryEventDeduper(ttl time.Duration) *MemoryEventDeduper {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryEventDeduper{ttl: ttl, processed: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryEventDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.evictLocked()
	_, ok := d.processed[eventID]
	return ok, nil
}

func (d *MemoryEventDeduper) Remember(_ context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed[eventID] = d.now()
	return nil
}

func (d *MemoryEventDeduper) evictLocked() {
	cutoff := d.now().Add(-d.ttl)
	for id, at := range d.processed {
		if at.Before(cutoff) {
			delete(d.processed, id)
		}
	}
}
