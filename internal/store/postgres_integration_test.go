//go:build integration

package store

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/cureliah/backend/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	skipIfNoDocker(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("cureliah"),
		postgres.WithUsername("cureliah"),
		postgres.WithPassword("cureliah"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := RunMigrations(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestUpsertSubscription_ConcurrentDeliveriesConverge(t *testing.T) {
	pool := newTestPool(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	userID := uuid.New()
	const workers = 8

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpsertSubscription(ctx, &domain.Subscription{
				UserID:               userID,
				SubscriberType:       domain.SubscriberEstablishment,
				StripeCustomerID:     "cus_test",
				StripeSubscriptionID: "sub_test",
				StripePriceID:        "price_pro_monthly",
				Status:               domain.SubscriptionActive,
				PlanType:             domain.PlanPro,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	subs, err := repo.ListSubscriptions(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected exactly one subscription row, got %d", len(subs))
	}
	if subs[0].PlanType != domain.PlanPro {
		t.Fatalf("expected plan pro, got %s", subs[0].PlanType)
	}
}

func TestNotificationReadLifecycle(t *testing.T) {
	pool := newTestPool(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()
	userID := uuid.New()

	n, err := repo.InsertNotification(ctx, domain.NewNotification{
		UserID:  userID,
		Title:   "Test",
		Message: "hello",
		Type:    domain.NotificationBookingRequest,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	count, err := repo.CountUnreadNotifications(ctx, userID)
	if err != nil || count != 1 {
		t.Fatalf("expected 1 unread, got %d (%v)", count, err)
	}

	_, wasUnread, err := repo.MarkNotificationRead(ctx, userID, n.ID)
	if err != nil || !wasUnread {
		t.Fatalf("first read: wasUnread=%v err=%v", wasUnread, err)
	}
	_, wasUnread, err = repo.MarkNotificationRead(ctx, userID, n.ID)
	if err != nil || wasUnread {
		t.Fatalf("second read should be a no-op: wasUnread=%v err=%v", wasUnread, err)
	}

	if _, _, err := repo.MarkNotificationRead(ctx, uuid.New(), n.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for another user, got %v", err)
	}
}

func TestOutboxClaimAndRetry(t *testing.T) {
	pool := newTestPool(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	if err := repo.EnqueueOutbox(ctx, domain.DefaultEventExchange, domain.RoutingEmailSend, []byte(`{"template":"critical_error"}`)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected one claimed message, got %d (%v)", len(claimed), err)
	}
	if claimed[0].Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", claimed[0].Attempts)
	}

	again, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	if err != nil || len(again) != 0 {
		t.Fatalf("in-flight message must not be claimed twice, got %d (%v)", len(again), err)
	}

	if err := repo.MarkOutboxFailed(ctx, claimed[0].ID, 3600, "broker down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	delayed, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	if err != nil || len(delayed) != 0 {
		t.Fatalf("delayed message claimed early: %d (%v)", len(delayed), err)
	}
}
