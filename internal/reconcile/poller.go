package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/schedule"
)

// Poller refreshes assistants on every tick and triggers an advisory sync
// when the same drift shows up on two consecutive polls.
type Poller struct {
	coord   *Coordinator
	ticker  schedule.Ticker
	watched []string
	notices *Notices
	logger  *slog.Logger

	mu     sync.Mutex
	drifts map[string]string // assistant ID -> previous drift signature
}

// NewPoller creates a poller. An empty watched list polls every assistant
// with at least one link.
func NewPoller(coord *Coordinator, ticker schedule.Ticker, watched []string, notices *Notices) *Poller {
	return &Poller{
		coord:   coord,
		ticker:  ticker,
		watched: append([]string{}, watched...),
		notices: notices,
		logger:  coord.logger,
		drifts:  make(map[string]string),
	}
}

// Start begins polling on the ticker.
func (p *Poller) Start(ctx context.Context) error {
	return p.ticker.Start(func() { p.Poll(ctx) })
}

// Pause drops ticks until Resume.
func (p *Poller) Pause() { p.ticker.Pause() }

// Resume re-enables polling.
func (p *Poller) Resume() { p.ticker.Resume() }

// Stop halts the ticker.
func (p *Poller) Stop() { p.ticker.Stop() }

// Poll runs one polling round.
func (p *Poller) Poll(ctx context.Context) {
	assistants := p.watched
	if len(assistants) == 0 {
		ids, err := p.coord.registry.deps.Assistants.ListAssistants(ctx)
		if err != nil {
			p.logger.Warn("poll: list assistants failed", "error", err)
			return
		}
		// Assistants whose last link was removed still have an engine and
		// may still hold remote names.
		assistants = mergeSorted(ids, p.coord.registry.Known())
	}

	for _, id := range assistants {
		if ctx.Err() != nil {
			return
		}
		p.pollOne(ctx, id)
	}
}

func (p *Poller) pollOne(ctx context.Context, assistantID string) {
	drift, err := p.coord.Refresh(ctx, assistantID)
	if err != nil {
		p.logger.Warn("poll: refresh failed", "assistant_id", assistantID, "error", err)
		return
	}

	sig := drift.Signature()
	p.mu.Lock()
	prev := p.drifts[assistantID]
	if sig == "" {
		delete(p.drifts, assistantID)
	} else {
		p.drifts[assistantID] = sig
	}
	p.mu.Unlock()

	if sig == "" || sig != prev {
		return
	}

	engine := p.coord.registry.Engine(assistantID)
	if engine.Busy() {
		return
	}
	res, err := p.coord.SyncOne(ctx, assistantID, engine.Suppressed())
	if err != nil {
		if errors.Is(err, errors.ErrRateLimited) {
			p.logger.Debug("advisory sync skipped during cooldown", "assistant_id", assistantID)
			return
		}
		p.logger.Warn("advisory sync failed", "assistant_id", assistantID, "error", err)
		if p.notices != nil {
			p.notices.Publish(assistantID, err)
		}
		return
	}

	p.mu.Lock()
	delete(p.drifts, assistantID)
	p.mu.Unlock()
	p.logger.Info("advisory sync applied", "assistant_id", assistantID, "added", len(res.Added), "removed", len(res.Removed))
}

func mergeSorted(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range append(append([]string{}, a...), b...) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
