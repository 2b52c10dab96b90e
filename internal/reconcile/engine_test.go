package reconcile

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/switchboard/internal/capability"
	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/remote"
)

func TestRequestActivation_OptimisticThenConverged(t *testing.T) {
	h := newHarness(t)
	e := h.engine("3")

	h.store.createGate = make(chan struct{})
	h.store.createEntered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- e.RequestActivation(context.Background(), "7", "tg") }()

	<-h.store.createEntered
	// The local write has not resolved yet
	require.Equal(t, PresentedState{Active: true, Pending: true}, e.State("7"))
	require.True(t, e.Busy())
	require.Zero(t, h.remote.TotalCalls())

	close(h.store.createGate)
	require.NoError(t, <-done)

	require.Equal(t, PresentedState{Active: true, Pending: false}, e.State("7"))
	require.False(t, e.Busy())

	names, err := h.remote.ListActive(context.Background(), "3")
	require.NoError(t, err)
	require.Equal(t, []string{"otpravit_zayavku"}, names)

	links, _ := h.store.ListByAssistant(context.Background(), "3")
	require.Len(t, links, 1)
	assert.True(t, links[0].Enabled)
	assert.True(t, links[0].ChannelEnabled)
	assert.Equal(t, "tg", links[0].NotificationChannelID)
}

func TestRequestActivation_RequiresActiveChannel(t *testing.T) {
	h := newHarness(t)
	h.store.channels = append(h.store.channels, capability.Channel{ID: "vk", Name: "VK", Kind: "vk", Enabled: false})
	e := h.engine("3")

	for _, channelID := range []string{"", "vk", "missing"} {
		err := e.RequestActivation(context.Background(), "7", channelID)
		require.True(t, errors.Is(err, errors.ErrConfiguration), "channel %q: %v", channelID, err)
	}

	require.Equal(t, PresentedState{}, e.State("7"))
	require.Zero(t, h.store.count("create"))
	require.Zero(t, h.remote.TotalCalls())
}

func TestRequestActivation_UnknownCapability(t *testing.T) {
	h := newHarness(t)

	err := h.engine("3").RequestActivation(context.Background(), "404", "tg")
	require.True(t, errors.Is(err, errors.ErrConfiguration))
	require.Zero(t, h.store.count("create"))
}

func TestRequestActivation_RollbackOnLocalFailure(t *testing.T) {
	h := newHarness(t)
	h.store.failCreate = stderrors.New("disk full")
	e := h.engine("3")

	err := e.RequestActivation(context.Background(), "7", "tg")
	require.True(t, errors.Is(err, errors.ErrActivationFailed))
	require.False(t, errors.IsWarning(err))

	require.Equal(t, PresentedState{Active: false, Pending: false}, e.State("7"))
	require.Zero(t, h.remote.Calls(remote.OpAddOne), "remote is never attempted after a local failure")
}

func TestRequestActivation_PartialWhenRemoteFails(t *testing.T) {
	h := newHarness(t)
	boom := stderrors.New("platform down")
	h.remote.Fail(remote.OpAddOne, boom, boom, boom)
	e := h.engine("3")

	err := e.RequestActivation(context.Background(), "7", "tg")
	require.True(t, errors.Is(err, errors.ErrPartialActivation))
	require.True(t, errors.IsWarning(err))
	require.ErrorIs(t, err, boom)

	var sErr *errors.Error
	require.True(t, stderrors.As(err, &sErr))
	require.Equal(t, errors.RemediationSync, sErr.Details["remediation"])

	// Committed local state is kept
	require.Equal(t, PresentedState{Active: true}, e.State("7"))
	links, _ := h.store.ListByAssistant(context.Background(), "3")
	require.Len(t, links, 1)

	require.Equal(t, 3, h.remote.Calls(remote.OpAddOne))
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, h.clock.Sleeps())
}

func TestRequestActivation_RetryRecovers(t *testing.T) {
	h := newHarness(t)
	h.remote.Fail(remote.OpAddOne, stderrors.New("blip"))

	require.NoError(t, h.engine("3").RequestActivation(context.Background(), "7", "tg"))
	require.Equal(t, 2, h.remote.Calls(remote.OpAddOne))
}

func TestRequestActivation_BusyAssistant(t *testing.T) {
	h := newHarness(t)
	e := h.engine("3")
	gate := make(chan struct{})
	h.store.createGate = gate
	h.store.createEntered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- e.RequestActivation(context.Background(), "7", "tg") }()
	<-h.store.createEntered

	err := e.RequestActivation(context.Background(), "4", "tg")
	require.True(t, errors.Is(err, errors.ErrTransitionInProgress))
	require.False(t, e.State("4").Active)

	err = e.RequestDeactivation(context.Background(), "7", "L-any")
	require.True(t, errors.Is(err, errors.ErrTransitionInProgress))

	// Other assistants are not blocked
	h.store.mu.Lock()
	h.store.createGate = nil
	h.store.createEntered = nil
	h.store.mu.Unlock()
	require.NoError(t, h.engine("4").RequestActivation(context.Background(), "4", "tg"))

	close(gate)
	require.NoError(t, <-done)
}

func TestRequestDeactivation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.engine("3")
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))

	require.NoError(t, e.RequestDeactivation(ctx, "7", ""))

	require.Equal(t, PresentedState{}, e.State("7"))
	require.Equal(t, []string{"7"}, e.Suppressed())

	links, _ := h.store.ListByAssistant(ctx, "3")
	require.Empty(t, links, "deactivation hard-deletes the link")

	names, _ := h.remote.ListActive(ctx, "3")
	require.Empty(t, names)
}

func TestRequestDeactivation_ResolvesLinkFromStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	link := h.store.seedLink("3", "4", true)
	h.remote.Set("3", "4")

	// The engine has never observed the link
	require.NoError(t, h.engine("3").RequestDeactivation(ctx, "4", ""))

	_, err := h.store.SetChannelEnabled(ctx, link.ID, true)
	require.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRequestDeactivation_NotLinked(t *testing.T) {
	h := newHarness(t)

	err := h.engine("3").RequestDeactivation(context.Background(), "4", "")
	require.True(t, errors.Is(err, errors.ErrConfiguration))
	require.Empty(t, h.engine("3").Suppressed())
	require.Zero(t, h.store.count("delete"))
}

func TestRequestDeactivation_RollbackOnLocalFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.engine("3")
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))

	h.store.failDelete = stderrors.New("locked")
	err := e.RequestDeactivation(ctx, "7", "")
	require.True(t, errors.Is(err, errors.ErrDeactivationFailed))

	require.Equal(t, PresentedState{Active: true}, e.State("7"))
	// The window only hides; it stays regardless of the outcome
	require.Equal(t, []string{"7"}, e.Suppressed())
	require.Equal(t, 1, h.remote.Calls(remote.OpAddOne))
	require.Zero(t, h.remote.Calls(remote.OpRemoveByName))
}

func TestRequestDeactivation_PartialWhenRemoteFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.engine("3")
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))

	boom := stderrors.New("platform down")
	h.remote.Fail(remote.OpRemoveByName, boom, boom, boom)

	err := e.RequestDeactivation(ctx, "7", "")
	require.True(t, errors.Is(err, errors.ErrPartialRemoval))
	require.True(t, errors.IsWarning(err))

	require.Equal(t, PresentedState{}, e.State("7"))
	links, _ := h.store.ListByAssistant(ctx, "3")
	require.Empty(t, links)
	require.Equal(t, 3, h.remote.Calls(remote.OpRemoveByName))
}

func TestObserve_RemoteOnlyIsAbsent(t *testing.T) {
	h := newHarness(t)
	h.remote.Set("3", "otpravit_zayavku")

	drift := h.observe(t, "3")

	require.False(t, h.engine("3").State("7").Active, "a name match without a local link is not active")
	require.Equal(t, []string{"otpravit_zayavku"}, drift.RemoteOnly)
	require.Empty(t, drift.LocalOnly)
}

func TestObserve_EffectiveSet(t *testing.T) {
	h := newHarness(t)
	h.store.seedLink("3", "4", true)  // enabled, not yet remote
	h.store.seedLink("3", "5", false) // disabled but remote
	h.store.seedLink("3", "6", false) // disabled, not remote
	h.remote.Set("3", "5", "unknown_tool")

	drift := h.observe(t, "3")

	snap := h.engine("3").Snapshot()
	require.Equal(t, []string{"4", "5"}, snap.Active)
	require.Equal(t, []string{"4"}, drift.LocalOnly)
	require.Equal(t, []string{"5", "unknown_tool"}, drift.RemoteOnly)
}

func TestObserve_Idempotent(t *testing.T) {
	h := newHarness(t)
	link := h.store.seedLink("3", "4", true)
	e := h.engine("3")
	catalog, _ := h.store.ListCapabilities(context.Background())

	obs := Observation{
		Remote:    []string{"4", "otpravit_zayavku"},
		Links:     []capability.Link{link},
		Catalog:   catalog,
		StartedAt: h.clock.Now(),
	}
	first := e.Observe(obs)
	snap := e.Snapshot()

	second := e.Observe(obs)
	require.Equal(t, first, second)
	require.Equal(t, snap, e.Snapshot())
}

func TestObserve_InFlightWins(t *testing.T) {
	h := newHarness(t)
	e := h.engine("3")
	h.store.createGate = make(chan struct{})
	h.store.createEntered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() { done <- e.RequestActivation(context.Background(), "7", "tg") }()
	<-h.store.createEntered

	catalog, _ := h.store.ListCapabilities(context.Background())
	h.clock.Advance(time.Second)
	e.Observe(Observation{Catalog: catalog, StartedAt: h.clock.Now()})
	require.Equal(t, PresentedState{Active: true, Pending: true}, e.State("7"))

	close(h.store.createGate)
	require.NoError(t, <-done)
}

func TestObserve_IgnoresReadsOlderThanIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.engine("3")
	catalog, _ := h.store.ListCapabilities(ctx)

	startedBefore := h.clock.Now()
	h.clock.Advance(time.Second)
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))

	// A poll that began before the toggle saw neither the link nor the remote add
	e.Observe(Observation{Catalog: catalog, StartedAt: startedBefore})
	require.True(t, e.State("7").Active)

	// A poll that began afterwards is authoritative
	h.clock.Advance(time.Second)
	e.Observe(Observation{Catalog: catalog, StartedAt: h.clock.Now()})
	require.False(t, e.State("7").Active)
}

func TestObserve_SuppressionPrecedence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.engine("3")
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))
	links, _ := h.store.ListByAssistant(ctx, "3")
	staleLinks := append([]capability.Link{}, links...)
	catalog, _ := h.store.ListCapabilities(ctx)

	require.NoError(t, e.RequestDeactivation(ctx, "7", ""))

	// Stale reads keep reporting the capability on both sides for the whole window
	for elapsed := time.Duration(0); elapsed < 29*time.Second; elapsed += time.Second {
		h.clock.Advance(time.Second)
		e.Observe(Observation{
			Remote:    []string{"otpravit_zayavku"},
			Links:     staleLinks,
			Catalog:   catalog,
			StartedAt: h.clock.Now(),
		})
		require.False(t, e.State("7").Active, "reappeared after %s", elapsed+time.Second)
	}

	// Entries leave the window at expiry, not on confirmation
	h.clock.Advance(time.Second)
	require.Empty(t, e.Suppressed())
	e.Observe(Observation{
		Remote:    []string{"otpravit_zayavku"},
		Links:     staleLinks,
		Catalog:   catalog,
		StartedAt: h.clock.Now(),
	})
	require.True(t, e.State("7").Active)
}

func TestScenario_DeactivateThenStalePoll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.engine("3")
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))
	require.NoError(t, e.RequestDeactivation(ctx, "7", ""))

	// The remote platform lags and still lists the capability
	h.remote.Set("3", "otpravit_zayavku")
	for i := 0; i < 30; i++ {
		drift := h.observe(t, "3")
		require.False(t, e.State("7").Active)
		require.Empty(t, drift.RemoteOnly, "suppressed names are not drift")
		h.clock.Advance(time.Second - time.Millisecond)
	}
}

func TestSetChannelEnabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	link := h.store.seedLink("3", "4", true)

	updated, err := h.engine("3").SetChannelEnabled(ctx, link.ID, false)
	require.NoError(t, err)
	require.False(t, updated.ChannelEnabled)
	require.True(t, updated.Enabled)

	// Another assistant cannot touch the link
	_, err = h.engine("9").SetChannelEnabled(ctx, link.ID, true)
	require.True(t, errors.Is(err, errors.ErrNotFound))
	links, _ := h.store.ListByAssistant(ctx, "3")
	require.False(t, links[0].ChannelEnabled)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "inactive", Inactive.String())
	assert.Equal(t, "activating", Activating.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "deactivating", Deactivating.String())
	assert.True(t, Activating.InFlight())
	assert.False(t, Active.InFlight())
}

func TestRequestActivation_ReusesExistingLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	existing := h.store.seedLink("3", "7", true)
	e := h.engine("3")

	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))
	require.Equal(t, PresentedState{Active: true}, e.State("7"))
	require.Equal(t, 1, h.remote.Calls(remote.OpAddOne))

	links, _ := h.store.ListByAssistant(ctx, "3")
	require.Len(t, links, 1)
	require.Equal(t, existing.ID, links[0].ID)

	// The reused link is the one deactivation deletes
	require.NoError(t, e.RequestDeactivation(ctx, "7", ""))
	links, _ = h.store.ListByAssistant(ctx, "3")
	require.Empty(t, links)
}

func TestRequestActivation_DisabledLinkStillFails(t *testing.T) {
	h := newHarness(t)
	h.store.seedLink("3", "7", false)
	e := h.engine("3")

	err := e.RequestActivation(context.Background(), "7", "tg")
	require.True(t, errors.Is(err, errors.ErrActivationFailed))
	require.Equal(t, PresentedState{}, e.State("7"))
	require.Zero(t, h.remote.Calls(remote.OpAddOne))
}

func TestObserve_ReactivationOverridesSuppression(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.engine("3")
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))
	require.NoError(t, e.RequestDeactivation(ctx, "7", ""))
	require.Equal(t, []string{"7"}, e.Suppressed())

	h.clock.Advance(time.Second)
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))
	require.Empty(t, e.Suppressed())
	require.Empty(t, e.Snapshot().Suppressed)

	// The remote still lags behind, the enabled link carries the state
	links, _ := h.store.ListByAssistant(ctx, "3")
	catalog, _ := h.store.ListCapabilities(ctx)
	for i := 0; i < 5; i++ {
		h.clock.Advance(time.Second)
		e.Observe(Observation{Links: links, Catalog: catalog, StartedAt: h.clock.Now()})
		require.True(t, e.State("7").Active)
	}
}

func TestScenario_ReactivateInsideWindowThenPoll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.engine("3")
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))
	require.NoError(t, e.RequestDeactivation(ctx, "7", ""))
	h.clock.Advance(time.Second)
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))

	drift := h.observe(t, "3")
	require.Equal(t, PresentedState{Active: true}, e.State("7"))
	require.Empty(t, drift.LocalOnly)
	require.Empty(t, drift.RemoteOnly)

	// A sync run with the current exclusions keeps the capability remotely
	res, err := h.coord.SyncOne(ctx, "3", e.Suppressed())
	require.NoError(t, err)
	require.Empty(t, res.Removed)
	require.True(t, e.State("7").Active)

	names, _ := h.remote.ListActive(ctx, "3")
	require.Equal(t, []string{"otpravit_zayavku"}, names)
}

func TestScenario_SecondDeactivationInsideWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e := h.engine("3")
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))
	require.NoError(t, e.RequestDeactivation(ctx, "7", ""))
	h.clock.Advance(time.Second)
	require.NoError(t, e.RequestActivation(ctx, "7", "tg"))
	h.clock.Advance(time.Second)
	require.NoError(t, e.RequestDeactivation(ctx, "7", ""))
	require.Equal(t, []string{"7"}, e.Suppressed())

	// Hidden again against a lagging remote
	h.remote.Set("3", "otpravit_zayavku")
	drift := h.observe(t, "3")
	require.False(t, e.State("7").Active)
	require.Empty(t, drift.RemoteOnly)
}
