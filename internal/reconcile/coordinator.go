package reconcile

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hpungsan/switchboard/internal/capability"
	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/remote"
)

// SyncResult is the diff a replace-all actually applied to one assistant.
type SyncResult struct {
	AssistantID string   `json:"assistant_id"`
	Added       []string `json:"added"`
	Removed     []string `json:"removed"`
}

// SyncAllResult aggregates a sync across assistants.
type SyncAllResult struct {
	Assistants int             `json:"assistants"`
	Added      int             `json:"added"`
	Removed    int             `json:"removed"`
	Results    []SyncResult    `json:"results"`
	Failures   []*errors.Error `json:"-"`
}

// Coordinator performs bulk reconciliation and refreshes.
type Coordinator struct {
	registry *Registry
	logger   *slog.Logger

	mu           sync.Mutex
	lastMutation time.Time
}

// NewCoordinator creates a coordinator over a registry's engines.
func NewCoordinator(registry *Registry) *Coordinator {
	return &Coordinator{
		registry: registry,
		logger:   registry.opts.Logger,
	}
}

// SyncOne pushes an assistant's enabled links, minus excludeIDs, to the
// remote platform as one replace-all. Exclusion keeps a capability from
// being re-added; it does not protect it from removal.
func (c *Coordinator) SyncOne(ctx context.Context, assistantID string, excludeIDs []string) (*SyncResult, error) {
	if assistantID == "" {
		return nil, errors.NewInvalidRequest("assistant_id is required")
	}
	if err := c.claimMutation(); err != nil {
		return nil, err
	}
	return c.syncOne(ctx, assistantID, excludeIDs)
}

// SyncAll runs SyncOne for every assistant with at least one link. One
// assistant's failure is recorded and the rest still run. Each assistant's
// current suppression window is excluded.
func (c *Coordinator) SyncAll(ctx context.Context) (*SyncAllResult, error) {
	assistants, err := c.registry.deps.Assistants.ListAssistants(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.claimMutation(); err != nil {
		return nil, err
	}

	out := &SyncAllResult{Assistants: len(assistants), Results: []SyncResult{}}
	for _, id := range assistants {
		if ctx.Err() != nil {
			out.Failures = append(out.Failures, errors.NewSyncFailure(id, ctx.Err()))
			continue
		}
		exclude := c.registry.Engine(id).Suppressed()
		res, err := c.syncOne(ctx, id, exclude)
		if err != nil {
			var sErr *errors.Error
			if !stderrors.As(err, &sErr) {
				sErr = errors.NewSyncFailure(id, err)
			}
			out.Failures = append(out.Failures, sErr)
			c.logger.Warn("sync failed", "assistant_id", id, "error", err)
			continue
		}
		out.Results = append(out.Results, *res)
		out.Added += len(res.Added)
		out.Removed += len(res.Removed)
	}
	c.logger.Info("sync all finished",
		"assistants", out.Assistants, "added", out.Added, "removed", out.Removed, "failures", len(out.Failures))
	return out, nil
}

// Refresh re-reads both stores and feeds the engine. It never mutates
// anything and is not throttled.
func (c *Coordinator) Refresh(ctx context.Context, assistantID string) (Drift, error) {
	if assistantID == "" {
		return Drift{}, errors.NewInvalidRequest("assistant_id is required")
	}
	deps := c.registry.deps
	started := c.registry.opts.Clock.Now()

	var names []string
	err := c.registry.opts.Retry.Do(ctx, c.registry.opts.Clock, func(ctx context.Context) error {
		var err error
		names, err = deps.Remote.ListActive(ctx, assistantID)
		return err
	})
	if err != nil {
		return Drift{}, errors.NewSyncFailure(assistantID, err)
	}
	links, err := deps.Links.ListByAssistant(ctx, assistantID)
	if err != nil {
		return Drift{}, err
	}
	catalog, err := deps.Catalog.ListCapabilities(ctx)
	if err != nil {
		return Drift{}, err
	}

	return c.registry.Engine(assistantID).Observe(Observation{
		Remote:    names,
		Links:     links,
		Catalog:   catalog,
		StartedAt: started,
	}), nil
}

// CooldownRemaining returns how long until the next mutating sync is allowed.
func (c *Coordinator) CooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *Coordinator) remainingLocked() time.Duration {
	if c.lastMutation.IsZero() {
		return 0
	}
	elapsed := c.registry.opts.Clock.Now().Sub(c.lastMutation)
	if elapsed >= c.registry.opts.SyncCooldown {
		return 0
	}
	return c.registry.opts.SyncCooldown - elapsed
}

// claimMutation rejects the call inside the cooldown, otherwise starts a new one.
func (c *Coordinator) claimMutation() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining := c.remainingLocked(); remaining > 0 {
		return errors.NewRateLimited(remaining.Milliseconds())
	}
	c.lastMutation = c.registry.opts.Clock.Now()
	return nil
}

func (c *Coordinator) syncOne(ctx context.Context, assistantID string, excludeIDs []string) (*SyncResult, error) {
	deps := c.registry.deps
	opts := c.registry.opts

	unlock := c.registry.locks.Lock(assistantID)
	defer unlock()

	started := opts.Clock.Now()
	links, err := deps.Links.ListByAssistant(ctx, assistantID)
	if err != nil {
		return nil, errors.NewSyncFailure(assistantID, err)
	}
	catalog, err := deps.Catalog.ListCapabilities(ctx)
	if err != nil {
		return nil, errors.NewSyncFailure(assistantID, err)
	}

	var current []string
	err = opts.Retry.Do(ctx, opts.Clock, func(ctx context.Context) error {
		var err error
		current, err = deps.Remote.ListActive(ctx, assistantID)
		return err
	})
	if err != nil {
		return nil, errors.NewSyncFailure(assistantID, err)
	}

	desired := desiredNames(links, catalog, current, excludeIDs, c.logger)

	var applied remote.ReplaceResult
	err = opts.Retry.Do(ctx, opts.Clock, func(ctx context.Context) error {
		var err error
		applied, err = deps.Remote.ReplaceAll(ctx, assistantID, desired)
		return err
	})
	if err != nil {
		return nil, errors.NewSyncFailure(assistantID, err)
	}

	c.registry.Engine(assistantID).Observe(Observation{
		Remote:    desired,
		Links:     links,
		Catalog:   catalog,
		StartedAt: started,
	})

	res := &SyncResult{AssistantID: assistantID, Added: applied.Added, Removed: applied.Removed}
	if res.Added == nil {
		res.Added = []string{}
	}
	if res.Removed == nil {
		res.Removed = []string{}
	}
	c.logger.Info("sync finished", "assistant_id", assistantID, "added", len(res.Added), "removed", len(res.Removed))
	return res, nil
}

// desiredNames maps enabled, non-excluded links to remote names, reusing the
// name the remote already knows a capability by.
func desiredNames(links []capability.Link, catalog []capability.Capability, current, excludeIDs []string, logger *slog.Logger) []string {
	exclude := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		exclude[id] = true
	}
	byID := capability.ByID(catalog)

	desired := make([]string, 0, len(links))
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		if !l.Enabled || exclude[l.CapabilityID] {
			continue
		}
		c, ok := byID[l.CapabilityID]
		if !ok {
			logger.Warn("link references unknown capability", "link_id", l.ID, "capability_id", l.CapabilityID)
			continue
		}
		name := capability.RemoteNameFor(c, current)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		desired = append(desired, name)
	}
	return desired
}
