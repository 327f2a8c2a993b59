package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cureliah/backend/internal/logging"
)

type urgentStub struct {
	calledAt time.Time
	err      error
}

func (s *urgentStub) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	s.calledAt = now
	if s.err != nil {
		return 0, s.err
	}
	return 2, nil
}

type pruneStub struct {
	calledAt time.Time
}

func (s *pruneStub) Prune(ctx context.Context, now time.Time) (int64, error) {
	s.calledAt = now
	return 5, nil
}

func newTestJobs(urgent UrgentExpirer, monitoring MonitoringPruner) *Jobs {
	j := NewJobs(urgent, monitoring, logging.Discard())
	j.now = func() time.Time { return time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC) }
	return j
}

func TestExpireUrgentRequests(t *testing.T) {
	urgent := &urgentStub{}
	newTestJobs(urgent, &pruneStub{}).ExpireUrgentRequests()
	if !urgent.calledAt.Equal(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("ExpireDue called with %s", urgent.calledAt)
	}

	// A failing run is logged, not propagated.
	newTestJobs(&urgentStub{err: errors.New("db down")}, &pruneStub{}).ExpireUrgentRequests()
}

func TestPruneMonitoring(t *testing.T) {
	pruner := &pruneStub{}
	newTestJobs(&urgentStub{}, pruner).PruneMonitoring()
	if pruner.calledAt.IsZero() {
		t.Fatal("Prune was not called")
	}
}

func TestSchedulerRegister(t *testing.T) {
	tests := []struct {
		name      string
		schedules Schedules
		wantErr   bool
	}{
		{name: "valid", schedules: Schedules{UrgentExpiry: "*/5 * * * *", MonitoringPrune: "30 3 * * *"}},
		{name: "invalid expression", schedules: Schedules{UrgentExpiry: "every five minutes", MonitoringPrune: "30 3 * * *"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScheduler(newTestJobs(&urgentStub{}, &pruneStub{}), tt.schedules, logging.Discard())
			err := s.Register()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && s.Entries() != 2 {
				t.Fatalf("entries = %d, want 2", s.Entries())
			}
		})
	}
}

func TestSchedulerServeStopsOnCancel(t *testing.T) {
	s := NewScheduler(newTestJobs(&urgentStub{}, &pruneStub{}), Schedules{UrgentExpiry: "@every 1h", MonitoringPrune: "@daily"}, logging.Discard())
	if err := s.Register(); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
