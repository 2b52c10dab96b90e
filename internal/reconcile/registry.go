// Package reconcile keeps the presented activation state of capabilities
// consistent with the local association store and the remote platform.
//
// Each assistant gets one Engine. The Engine owns the presented set and the
// suppression window; toggles, syncs and polls only request transitions or
// feed observations.
package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hpungsan/switchboard/internal/capability"
	"github.com/hpungsan/switchboard/internal/remote"
	"github.com/hpungsan/switchboard/internal/schedule"
)

// LinkStore is the local association store.
type LinkStore interface {
	Create(ctx context.Context, l capability.Link) (*capability.Link, error)
	Delete(ctx context.Context, linkID string) error
	ListByAssistant(ctx context.Context, assistantID string) ([]capability.Link, error)
	SetChannelEnabled(ctx context.Context, linkID string, channelEnabled bool) (*capability.Link, error)
}

// ChannelCatalog lists enabled notification channels.
type ChannelCatalog interface {
	ListActive(ctx context.Context) ([]capability.Channel, error)
}

// CapabilityCatalog resolves capabilities.
type CapabilityCatalog interface {
	GetCapability(ctx context.Context, id string) (*capability.Capability, error)
	ListCapabilities(ctx context.Context) ([]capability.Capability, error)
}

// AssistantLister lists assistants that have at least one link.
type AssistantLister interface {
	ListAssistants(ctx context.Context) ([]string, error)
}

// Deps are the collaborators shared by every engine.
type Deps struct {
	Links      LinkStore
	Channels   ChannelCatalog
	Catalog    CapabilityCatalog
	Assistants AssistantLister
	Remote     remote.Source
}

// Options tune timing. Zero fields take defaults.
type Options struct {
	// SuppressionWindow hides a just-deactivated capability from observations (default 30s)
	SuppressionWindow time.Duration

	// SyncCooldown is the minimum gap between mutating syncs (default 5s)
	SyncCooldown time.Duration

	Retry  RetryPolicy
	Clock  schedule.Clock
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SuppressionWindow <= 0 {
		o.SuppressionWindow = 30 * time.Second
	}
	if o.SyncCooldown <= 0 {
		o.SyncCooldown = 5 * time.Second
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Clock == nil {
		o.Clock = schedule.RealClock{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Registry hands out one Engine per assistant, created on first use.
type Registry struct {
	deps  Deps
	opts  Options
	locks *AssistantLocks

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewRegistry creates a registry whose engines share deps, options and locks.
func NewRegistry(deps Deps, opts Options) *Registry {
	return &Registry{
		deps:    deps,
		opts:    opts.withDefaults(),
		locks:   NewAssistantLocks(),
		engines: make(map[string]*Engine),
	}
}

// Engine returns the assistant's engine, creating it if needed.
func (r *Registry) Engine(assistantID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[assistantID]
	if !ok {
		e = NewEngine(assistantID, r.deps, r.opts, r.locks)
		r.engines[assistantID] = e
	}
	return e
}

// Known returns the assistants that have an engine, sorted.
func (r *Registry) Known() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
