package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cureliah/backend/internal/logging"
	"github.com/cureliah/backend/internal/store"
	"github.com/cureliah/backend/pkg/rabbitmq"
)

type fakeOutboxRepo struct {
	pending   []store.OutboxMessage
	published []int64
	failed    map[int64]int
}

func (r *fakeOutboxRepo) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error) {
	out := r.pending
	r.pending = nil
	return out, nil
}

func (r *fakeOutboxRepo) MarkOutboxPublished(ctx context.Context, id int64) error {
	r.published = append(r.published, id)
	return nil
}

func (r *fakeOutboxRepo) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if r.failed == nil {
		r.failed = map[int64]int{}
	}
	r.failed[id] = retryAfterSeconds
	return nil
}

type fakePublisher struct {
	failKeys map[string]bool
	keys     []string
	closed   int
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	return nil
}

func (p *fakePublisher) PublishJSON(ctx context.Context, exchange, routingKey string, payload []byte) error {
	if p.failKeys[routingKey] {
		return errors.New("channel closed")
	}
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *fakePublisher) Close() {
	p.closed++
}

func TestOutboxFlush(t *testing.T) {
	repo := &fakeOutboxRepo{pending: []store.OutboxMessage{
		{ID: 1, Exchange: "cureliah.events", RoutingKey: "notification.created", Payload: []byte(`{}`), Attempts: 1},
		{ID: 2, Exchange: "cureliah.events", RoutingKey: "email.send", Payload: []byte(`{}`), Attempts: 3},
		{ID: 3, Exchange: "cureliah.events", RoutingKey: "notification.updated", Payload: []byte(`{}`), Attempts: 1},
	}}
	publisher := &fakePublisher{failKeys: map[string]bool{"email.send": true}}
	dials := 0
	dial := func() (rabbitmq.Publisher, error) {
		dials++
		return publisher, nil
	}
	d := NewOutboxDispatcher(repo, dial, time.Second, logging.Discard())

	if err := d.flushOnce(context.Background()); err != nil {
		t.Fatalf("flushOnce() error = %v", err)
	}
	if len(repo.published) != 2 || repo.published[0] != 1 || repo.published[1] != 3 {
		t.Fatalf("published = %v", repo.published)
	}
	if got, ok := repo.failed[2]; !ok || got != retryDelaySeconds(3) {
		t.Fatalf("failed = %v", repo.failed)
	}
	if dials != 2 || publisher.closed != 1 {
		t.Fatalf("expected a redial after the failure: dials=%d closed=%d", dials, publisher.closed)
	}
}

func TestOutboxFlush_DialFailureReschedules(t *testing.T) {
	repo := &fakeOutboxRepo{pending: []store.OutboxMessage{{ID: 7, RoutingKey: "notification.created", Attempts: 0}}}
	dial := func() (rabbitmq.Publisher, error) { return nil, errors.New("connection refused") }
	d := NewOutboxDispatcher(repo, dial, time.Second, logging.Discard())

	if err := d.flushOnce(context.Background()); err != nil {
		t.Fatalf("flushOnce() error = %v", err)
	}
	if repo.failed[7] != 1 || len(repo.published) != 0 {
		t.Fatalf("expected reschedule, got failed=%v published=%v", repo.failed, repo.published)
	}
}

func TestRetryDelaySeconds(t *testing.T) {
	tests := []struct {
		attempt int
		want    int
	}{
		{attempt: 0, want: 1},
		{attempt: 1, want: 2},
		{attempt: 4, want: 16},
		{attempt: 8, want: 256},
		{attempt: 20, want: 256},
	}
	for _, tt := range tests {
		if got := retryDelaySeconds(tt.attempt); got != tt.want {
			t.Errorf("retryDelaySeconds(%d) = %d, want %d", tt.attempt, got, tt.want)
		}
	}
}

func TestMemoryEventDeduper(t *testing.T) {
	d := NewMemoryEventDeduper(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	if seen, _ := d.Seen(ctx, "evt_1"); seen {
		t.Fatal("fresh event reported as seen")
	}
	if err := d.Remember(ctx, "evt_1"); err != nil {
		t.Fatalf("Remember() error = %v", err)
	}
	if seen, _ := d.Seen(ctx, "evt_1"); !seen {
		t.Fatal("remembered event not seen")
	}

	now = now.Add(2 * time.Hour)
	if seen, _ := d.Seen(ctx, "evt_1"); seen {
		t.Fatal("event should be evicted after the ttl")
	}
}
