package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cureliah/backend/internal/logging"
)

type countingService struct {
	name   string
	starts atomic.Int32
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string {
	return s.name
}

func TestNewTreeAppliesDefaults(t *testing.T) {
	tree := NewTree("test", logging.Discard(), TreeConfig{})
	if tree.config != DefaultTreeConfig() {
		t.Fatalf("config = %+v, want defaults", tree.config)
	}
}

func TestTreeRunsEveryLayer(t *testing.T) {
	tree := NewTree("test", logging.Discard(), TreeConfig{ShutdownTimeout: time.Second})
	services := []*countingService{{name: "worker"}, {name: "messaging"}, {name: "api"}}
	tree.AddWorker(services[0])
	tree.AddMessaging(services[1])
	tree.AddAPI(services[2])

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for _, svc := range services {
		for svc.starts.Load() == 0 {
			if time.Now().After(deadline) {
				t.Fatalf("%s never started", svc.name)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
}

type fakeHTTPServer struct {
	stop     chan struct{}
	listen   error
	shutdown atomic.Bool
}

func (s *fakeHTTPServer) ListenAndServe() error {
	if s.listen != nil {
		return s.listen
	}
	<-s.stop
	return http.ErrServerClosed
}

func (s *fakeHTTPServer) Shutdown(ctx context.Context) error {
	s.shutdown.Store(true)
	close(s.stop)
	return nil
}

func TestHTTPServerServiceShutsDownOnCancel(t *testing.T) {
	srv := &fakeHTTPServer{stop: make(chan struct{})}
	svc := NewHTTPServerService(srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if !srv.shutdown.Load() {
		t.Fatal("Shutdown was not called")
	}
}

func TestHTTPServerServiceReportsListenFailure(t *testing.T) {
	srv := &fakeHTTPServer{stop: make(chan struct{}), listen: errors.New("address in use")}
	err := NewHTTPServerService(srv, time.Second).Serve(context.Background())
	if err == nil {
		t.Fatal("expected listen failure")
	}
}
