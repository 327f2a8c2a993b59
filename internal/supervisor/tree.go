// Package supervisor builds the suture tree every long-running binary runs under.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff. Default: 5
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay in seconds. Default: 30
	FailureDecay float64
	// FailureBackoff is how long to wait once the threshold is exceeded. Default: 15s
	FailureBackoff time.Duration
	// ShutdownTimeout bounds graceful shutdown of each service. Default: 10s
	ShutdownTimeout time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree groups services in three layers: workers draining the database,
// messaging consumers, and the HTTP surface. A crashing layer is restarted
// without taking the others down.
type Tree struct {
	root      *suture.Supervisor
	workers   *suture.Supervisor
	messaging *suture.Supervisor
	api       *suture.Supervisor
	config    TreeConfig
}

func NewTree(name string, logger *slog.Logger, config TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	handler := &sutureslog.Handler{Logger: logger.With("component", "supervisor")}
	rootSpec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New(name, rootSpec)
	workers := suture.New("worker-layer", childSpec)
	messaging := suture.New("messaging-layer", childSpec)
	api := suture.New("api-layer", childSpec)
	root.Add(workers)
	root.Add(messaging)
	root.Add(api)

	return &Tree{root: root, workers: workers, messaging: messaging, api: api, config: config}
}

func (t *Tree) AddWorker(svc suture.Service) suture.ServiceToken {
	return t.workers.Add(svc)
}

func (t *Tree) AddMessaging(svc suture.Service) suture.ServiceToken {
	return t.messaging.Add(svc)
}

func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve blocks until ctx is cancelled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
