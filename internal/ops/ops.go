package ops

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/switchboard/internal/config"
	"github.com/hpungsan/switchboard/internal/db"
	"github.com/hpungsan/switchboard/internal/reconcile"
	"github.com/hpungsan/switchboard/internal/remote"
	"github.com/hpungsan/switchboard/internal/schedule"
)

// Pagination limits
const (
	DefaultListLimit   = 50
	MaxListLimit       = 200
	DefaultNoticeLimit = 20
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Options are the optional collaborators of a Service.
type Options struct {
	Clock  schedule.Clock
	Logger *slog.Logger
}

// Service is the operation surface shared by the CLI, MCP server and web console.
type Service struct {
	store    *db.Store
	registry *reconcile.Registry
	coord    *reconcile.Coordinator
	notices  *reconcile.Notices
	cfg      *config.Config
	logger   *slog.Logger

	mu          sync.Mutex
	controllers map[string]*reconcile.Controller
	primed      map[string]bool
	pending     sync.WaitGroup
}

// New wires a Service over the local store and a remote source.
func New(store *db.Store, src remote.Source, cfg *config.Config, opts Options) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Clock == nil {
		opts.Clock = schedule.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	registry := reconcile.NewRegistry(reconcile.Deps{
		Links:      store,
		Channels:   store,
		Catalog:    store,
		Assistants: store,
		Remote:     src,
	}, reconcile.Options{
		SuppressionWindow: cfg.SuppressionWindow(),
		SyncCooldown:      cfg.SyncCooldown(),
		Retry:             RetryPolicy(cfg),
		Clock:             opts.Clock,
		Logger:            opts.Logger,
	})

	return &Service{
		store:       store,
		registry:    registry,
		coord:       reconcile.NewCoordinator(registry),
		notices:     reconcile.NewNotices(opts.Clock, 0),
		cfg:         cfg,
		logger:      opts.Logger,
		controllers: make(map[string]*reconcile.Controller),
		primed:      make(map[string]bool),
	}
}

// RetryPolicy builds the remote retry policy from configuration.
func RetryPolicy(cfg *config.Config) reconcile.RetryPolicy {
	return reconcile.RetryPolicy{
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: time.Duration(cfg.RetryInitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(cfg.RetryMaxBackoffMs) * time.Millisecond,
		Multiplier:     2,
	}
}

// Coordinator exposes the sync coordinator, e.g. for a poller.
func (s *Service) Coordinator() *reconcile.Coordinator {
	return s.coord
}

// Notices exposes the notice feed.
func (s *Service) Notices() *reconcile.Notices {
	return s.notices
}

// Config returns the effective configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Wait blocks until every fire-and-forget toggle has settled.
func (s *Service) Wait() {
	s.pending.Wait()
}

func (s *Service) controller(assistantID string) *reconcile.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[assistantID]
	if !ok {
		c = reconcile.NewController(s.registry.Engine(assistantID), s.notices, s.logger)
		s.controllers[assistantID] = c
	}
	return c
}

// prime loads an assistant's state from both stores the first time it is
// touched. A failed load is retried on the next call.
func (s *Service) prime(ctx context.Context, assistantID string) {
	s.mu.Lock()
	done := s.primed[assistantID]
	s.mu.Unlock()
	if done {
		return
	}

	if _, err := s.coord.Refresh(ctx, assistantID); err != nil {
		s.logger.Warn("initial refresh failed", "assistant_id", assistantID, "error", err)
		return
	}

	s.mu.Lock()
	s.primed[assistantID] = true
	s.mu.Unlock()
}
