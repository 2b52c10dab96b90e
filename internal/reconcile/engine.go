package reconcile

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/switchboard/internal/capability"
	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/schedule"
)

// Phase is the per-capability transition state.
type Phase int

const (
	Inactive Phase = iota
	Activating
	Active
	Deactivating
)

func (p Phase) String() string {
	switch p {
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Deactivating:
		return "deactivating"
	default:
		return "inactive"
	}
}

// InFlight reports whether a round trip is outstanding.
func (p Phase) InFlight() bool {
	return p == Activating || p == Deactivating
}

// PresentedState is what the console shows for one capability.
type PresentedState struct {
	Active  bool `json:"active"`
	Pending bool `json:"pending"`
}

// Observation is one poll's view of both stores.
type Observation struct {
	Remote  []string
	Links   []capability.Link
	Catalog []capability.Capability

	// StartedAt is when the reads began. Capabilities toggled at or after
	// this instant are not touched by the observation.
	StartedAt time.Time
}

// Drift describes a steady-state mismatch between the remote activation set
// and local enabled links.
type Drift struct {
	// RemoteOnly are remote names without an enabled local link
	RemoteOnly []string `json:"remote_only"`

	// LocalOnly are capability IDs with an enabled link but no remote name
	LocalOnly []string `json:"local_only"`
}

// Empty reports whether both stores agree.
func (d Drift) Empty() bool {
	return len(d.RemoteOnly) == 0 && len(d.LocalOnly) == 0
}

// Signature identifies a drift so repeated polls can be compared.
func (d Drift) Signature() string {
	if d.Empty() {
		return ""
	}
	return "remote:" + strings.Join(d.RemoteOnly, ",") + "|local:" + strings.Join(d.LocalOnly, ",")
}

// Snapshot is a point-in-time copy of an engine's state.
type Snapshot struct {
	AssistantID string   `json:"assistant_id"`
	Active      []string `json:"active"`
	Pending     []string `json:"pending"`
	Suppressed  []string `json:"suppressed"`
	Busy        bool     `json:"busy"`
}

// Engine is the state machine for one assistant's presented activation set.
// No I/O happens while mu is held.
type Engine struct {
	assistantID string
	deps        Deps
	opts        Options
	locks       *AssistantLocks
	logger      *slog.Logger

	mu         sync.Mutex
	presented  map[string]bool
	phases     map[string]Phase
	intents    map[string]time.Time
	wantOn     map[string]bool // last request per capability was an activation
	suppressed *schedule.Expiring
	links      map[string]capability.Link // by capability ID
	remote     []string
}

// NewEngine creates an engine. A nil locks gets a private lock table.
func NewEngine(assistantID string, deps Deps, opts Options, locks *AssistantLocks) *Engine {
	opts = opts.withDefaults()
	if locks == nil {
		locks = NewAssistantLocks()
	}
	return &Engine{
		assistantID: assistantID,
		deps:        deps,
		opts:        opts,
		locks:       locks,
		logger:      opts.Logger.With("assistant_id", assistantID),
		presented:   make(map[string]bool),
		phases:      make(map[string]Phase),
		intents:     make(map[string]time.Time),
		wantOn:      make(map[string]bool),
		suppressed:  schedule.NewExpiring(opts.Clock),
		links:       make(map[string]capability.Link),
	}
}

// AssistantID returns the assistant this engine serves.
func (e *Engine) AssistantID() string {
	return e.assistantID
}

// RequestActivation links a capability locally, then adds it remotely.
//
// The capability is presented as active before any store write. A failed
// local write reverts that and returns ACTIVATION_FAILED. A failed remote
// add keeps the link and returns a PARTIAL_ACTIVATION warning. A link that
// already exists is reused.
func (e *Engine) RequestActivation(ctx context.Context, capabilityID, channelID string) error {
	run, err := e.prepareActivation(ctx, capabilityID, channelID)
	if err != nil {
		return err
	}
	return run(ctx)
}

// prepareActivation checks preconditions and presents the capability as
// activating. The returned func performs the writes.
func (e *Engine) prepareActivation(ctx context.Context, capabilityID, channelID string) (func(context.Context) error, error) {
	c, err := e.checkActivation(ctx, capabilityID, channelID)
	if err != nil {
		return nil, err
	}
	if err := e.begin(capabilityID, Activating, true); err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		link, err := e.createLink(ctx, capabilityID, channelID)
		if err != nil {
			e.mu.Lock()
			e.wantOn[capabilityID] = false
			e.mu.Unlock()
			e.finish(capabilityID, Inactive, false)
			e.logger.Warn("activation failed", "capability_id", capabilityID, "error", err)
			return errors.NewActivationFailed(capabilityID, err)
		}

		e.mu.Lock()
		e.links[capabilityID] = *link
		e.mu.Unlock()

		remoteErr := e.withRemote(ctx, func(ctx context.Context) error {
			res, err := e.deps.Remote.AddOne(ctx, e.assistantID, *c)
			if err == nil {
				e.rememberRemote(res.Name)
			}
			return err
		})

		e.finish(capabilityID, Active, true)
		if remoteErr != nil {
			e.logger.Warn("remote activation failed", "capability_id", capabilityID, "error", remoteErr)
			return errors.NewPartialActivation(capabilityID, remoteErr)
		}
		e.logger.Info("capability activated", "capability_id", capabilityID, "link_id", link.ID)
		return nil
	}, nil
}

// createLink writes the link. When the write fails because the capability
// is already linked to the assistant, the existing enabled link is returned.
func (e *Engine) createLink(ctx context.Context, capabilityID, channelID string) (*capability.Link, error) {
	link, err := e.deps.Links.Create(ctx, capability.Link{
		CapabilityID:          capabilityID,
		AssistantID:           e.assistantID,
		NotificationChannelID: channelID,
		Enabled:               true,
		ChannelEnabled:        true,
	})
	if err == nil {
		return link, nil
	}

	links, listErr := e.deps.Links.ListByAssistant(ctx, e.assistantID)
	if listErr != nil {
		return nil, err
	}
	for _, l := range links {
		if l.CapabilityID == capabilityID && l.Enabled {
			e.logger.Info("capability already linked", "capability_id", capabilityID, "link_id", l.ID)
			return &l, nil
		}
	}
	return nil, err
}

// RequestDeactivation deletes a capability's link, then removes it remotely
// by name. An empty linkID is resolved from the links the engine has seen,
// falling back to the store.
//
// The capability enters the suppression window before any store write and
// stays there until the window expires, whatever the outcome.
func (e *Engine) RequestDeactivation(ctx context.Context, capabilityID, linkID string) error {
	run, err := e.prepareDeactivation(ctx, capabilityID, linkID)
	if err != nil {
		return err
	}
	return run(ctx)
}

// prepareDeactivation resolves the link, suppresses the capability and
// presents it as deactivating. The returned func performs the writes.
func (e *Engine) prepareDeactivation(ctx context.Context, capabilityID, linkID string) (func(context.Context) error, error) {
	c, err := e.deps.Catalog.GetCapability(ctx, capabilityID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewConfiguration("capability not found: " + capabilityID)
		}
		return nil, err
	}
	if linkID == "" {
		linkID, err = e.resolveLink(ctx, capabilityID)
		if err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	if e.busyLocked() {
		e.mu.Unlock()
		return nil, errors.NewTransitionInProgress(e.assistantID)
	}
	e.suppressed.Add(capabilityID, e.opts.SuppressionWindow)
	e.phases[capabilityID] = Deactivating
	delete(e.presented, capabilityID)
	e.intents[capabilityID] = e.opts.Clock.Now()
	e.wantOn[capabilityID] = false
	e.mu.Unlock()

	return func(ctx context.Context) error {
		err := e.deps.Links.Delete(ctx, linkID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			e.finish(capabilityID, Active, true)
			e.logger.Warn("deactivation failed", "capability_id", capabilityID, "link_id", linkID, "error", err)
			return errors.NewDeactivationFailed(capabilityID, err)
		}

		e.mu.Lock()
		delete(e.links, capabilityID)
		known := append([]string{}, e.remote...)
		e.mu.Unlock()

		name := capability.RemoteNameFor(*c, known)
		remoteErr := e.withRemote(ctx, func(ctx context.Context) error {
			err := e.deps.Remote.RemoveByName(ctx, e.assistantID, name)
			if err == nil {
				e.forgetRemote(name)
			}
			return err
		})

		e.finish(capabilityID, Inactive, false)
		if remoteErr != nil {
			e.logger.Warn("remote removal failed", "capability_id", capabilityID, "name", name, "error", remoteErr)
			return errors.NewPartialRemoval(capabilityID, remoteErr)
		}
		e.logger.Info("capability deactivated", "capability_id", capabilityID, "remote_name", name)
		return nil
	}, nil
}

// Observe folds a poll result into the presented set:
//
//	effective = (matched(remote) ∩ linked) ∪ enabled \ suppressed
//
// Only a capability whose last request was a deactivation is hidden by the
// suppression window. Capabilities in flight, or whose last toggle is not
// older than obs.StartedAt, keep their presented state. Applying the same
// observation twice changes nothing the second time.
func (e *Engine) Observe(obs Observation) Drift {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := obs.StartedAt
	if started.IsZero() {
		started = e.opts.Clock.Now()
	}

	e.remote = append(e.remote[:0:0], obs.Remote...)
	e.links = make(map[string]capability.Link, len(obs.Links))
	linked := make(map[string]bool, len(obs.Links))
	enabled := make(map[string]bool, len(obs.Links))
	for _, l := range obs.Links {
		e.links[l.CapabilityID] = l
		linked[l.CapabilityID] = true
		if l.Enabled {
			enabled[l.CapabilityID] = true
		}
	}

	remoteIDs := make(map[string]bool, len(obs.Remote))
	var unmatched []string
	for _, name := range obs.Remote {
		if id, ok := capability.Match(name, obs.Catalog); ok {
			remoteIDs[id] = true
			if !enabled[id] && !e.settlingLocked(id, started) {
				unmatched = append(unmatched, name)
			}
			continue
		}
		unmatched = append(unmatched, name)
	}

	effective := make(map[string]bool)
	for id := range remoteIDs {
		if linked[id] {
			effective[id] = true
		}
	}
	for id := range enabled {
		effective[id] = true
	}
	for _, id := range e.suppressedLocked() {
		delete(effective, id)
	}

	candidates := make(map[string]bool, len(effective)+len(e.presented))
	for id := range effective {
		candidates[id] = true
	}
	for id := range e.presented {
		candidates[id] = true
	}

	changed := 0
	for id := range candidates {
		if e.phases[id].InFlight() || e.newerIntentLocked(id, started) {
			continue
		}
		if effective[id] != e.presented[id] {
			if effective[id] {
				e.presented[id] = true
			} else {
				delete(e.presented, id)
			}
			changed++
		}
	}
	if changed > 0 {
		e.logger.Debug("presented set updated", "changed", changed, "active", len(e.presented))
	}

	drift := Drift{RemoteOnly: []string{}, LocalOnly: []string{}}
	sort.Strings(unmatched)
	drift.RemoteOnly = append(drift.RemoteOnly, unmatched...)
	for id := range enabled {
		if !remoteIDs[id] && !e.settlingLocked(id, started) {
			drift.LocalOnly = append(drift.LocalOnly, id)
		}
	}
	sort.Strings(drift.LocalOnly)
	return drift
}

// State returns the presented state of one capability.
func (e *Engine) State(capabilityID string) PresentedState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return PresentedState{
		Active:  e.presented[capabilityID],
		Pending: e.phases[capabilityID].InFlight(),
	}
}

// Busy reports whether any capability of the assistant is in flight.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busyLocked()
}

// Suppressed returns the capability IDs the suppression window currently
// hides: inside the window and not switched on again since.
func (e *Engine) Suppressed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suppressedLocked()
}

// Snapshot copies the engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		AssistantID: e.assistantID,
		Active:      make([]string, 0, len(e.presented)),
		Pending:     []string{},
		Suppressed:  e.suppressedLocked(),
	}
	for id := range e.presented {
		s.Active = append(s.Active, id)
	}
	for id, p := range e.phases {
		if p.InFlight() {
			s.Pending = append(s.Pending, id)
		}
	}
	sort.Strings(s.Active)
	sort.Strings(s.Pending)
	s.Busy = len(s.Pending) > 0
	return s
}

// SetChannelEnabled toggles notification forwarding on one of the
// assistant's links. Presentation is unaffected.
func (e *Engine) SetChannelEnabled(ctx context.Context, linkID string, channelEnabled bool) (*capability.Link, error) {
	links, err := e.deps.Links.ListByAssistant(ctx, e.assistantID)
	if err != nil {
		return nil, err
	}
	owned := false
	for _, l := range links {
		if l.ID == linkID {
			owned = true
			break
		}
	}
	if !owned {
		return nil, errors.NewNotFound("link", linkID)
	}

	link, err := e.deps.Links.SetChannelEnabled(ctx, linkID, channelEnabled)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.links[link.CapabilityID] = *link
	e.mu.Unlock()
	return link, nil
}

func (e *Engine) checkActivation(ctx context.Context, capabilityID, channelID string) (*capability.Capability, error) {
	if channelID == "" {
		return nil, errors.NewConfiguration("no active channel selected")
	}
	channels, err := e.deps.Channels.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	found := false
	for _, ch := range channels {
		if ch.ID == channelID && ch.Enabled {
			found = true
			break
		}
	}
	if !found {
		return nil, errors.NewConfiguration("no active channel selected")
	}

	c, err := e.deps.Catalog.GetCapability(ctx, capabilityID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, errors.NewConfiguration("capability not found: " + capabilityID)
		}
		return nil, err
	}
	return c, nil
}

func (e *Engine) resolveLink(ctx context.Context, capabilityID string) (string, error) {
	e.mu.Lock()
	l, ok := e.links[capabilityID]
	e.mu.Unlock()
	if ok {
		return l.ID, nil
	}

	links, err := e.deps.Links.ListByAssistant(ctx, e.assistantID)
	if err != nil {
		return "", err
	}
	for _, l := range links {
		if l.CapabilityID == capabilityID {
			return l.ID, nil
		}
	}
	return "", errors.NewConfiguration("capability " + capabilityID + " is not linked to assistant " + e.assistantID)
}

// begin moves a capability into an in-flight phase unless the assistant is busy.
func (e *Engine) begin(capabilityID string, phase Phase, presented bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busyLocked() {
		return errors.NewTransitionInProgress(e.assistantID)
	}
	e.phases[capabilityID] = phase
	if presented {
		e.presented[capabilityID] = true
	} else {
		delete(e.presented, capabilityID)
	}
	e.intents[capabilityID] = e.opts.Clock.Now()
	e.wantOn[capabilityID] = presented
	return nil
}

// finish settles a capability into a stable phase.
func (e *Engine) finish(capabilityID string, phase Phase, presented bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if phase == Inactive {
		delete(e.phases, capabilityID)
	} else {
		e.phases[capabilityID] = phase
	}
	if presented {
		e.presented[capabilityID] = true
	} else {
		delete(e.presented, capabilityID)
	}
}

// withRemote runs a remote mutation under the assistant lock with retries.
func (e *Engine) withRemote(ctx context.Context, fn func(context.Context) error) error {
	unlock := e.locks.Lock(e.assistantID)
	defer unlock()
	return e.opts.Retry.Do(ctx, e.opts.Clock, fn)
}

func (e *Engine) rememberRemote(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, n := range e.remote {
		if n == name {
			return
		}
	}
	e.remote = append(e.remote, name)
}

func (e *Engine) forgetRemote(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.remote[:0:0]
	for _, n := range e.remote {
		if n != name {
			kept = append(kept, n)
		}
	}
	e.remote = kept
}

func (e *Engine) busyLocked() bool {
	for _, p := range e.phases {
		if p.InFlight() {
			return true
		}
	}
	return false
}

func (e *Engine) suppressingLocked(capabilityID string) bool {
	return e.suppressed.Has(capabilityID) && !e.wantOn[capabilityID]
}

func (e *Engine) suppressedLocked() []string {
	keys := e.suppressed.Keys()
	out := make([]string, 0, len(keys))
	for _, id := range keys {
		if !e.wantOn[id] {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) newerIntentLocked(capabilityID string, started time.Time) bool {
	at, ok := e.intents[capabilityID]
	return ok && !at.Before(started)
}

// settlingLocked reports whether a capability is expected to disagree
// between stores for now: in flight, suppressed, or toggled after the
// observation began.
func (e *Engine) settlingLocked(capabilityID string, started time.Time) bool {
	return e.phases[capabilityID].InFlight() ||
		e.suppressingLocked(capabilityID) ||
		e.newerIntentLocked(capabilityID, started)
}
