package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/hpungsan/switchboard/internal/capability"
	"github.com/hpungsan/switchboard/internal/errors"
	"github.com/hpungsan/switchboard/internal/remote"
	"github.com/hpungsan/switchboard/internal/schedule"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeStore implements every local collaborator with call counting,
// failure injection and an optional gate that blocks Create.
type fakeStore struct {
	mu       sync.Mutex
	caps     []capability.Capability
	channels []capability.Channel
	links    map[string]capability.Link
	seq      int
	calls    map[string]int

	failCreate error
	failDelete error
	failList   error

	// createGate, when set, blocks Create until it is closed
	createGate chan struct{}
	// createEntered is signalled when Create starts
	createEntered chan struct{}
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		links:    make(map[string]capability.Link),
		calls:    make(map[string]int),
		channels: []capability.Channel{{ID: "tg", Name: "Telegram", Kind: "telegram", Enabled: true}},
	}
	for _, id := range []string{"4", "5", "6", "8"} {
		s.caps = append(s.caps, capability.Capability{ID: id, Name: id})
	}
	s.caps = append(s.caps, capability.Capability{ID: "7", Name: "Отправить заявку"})
	return s
}

func (s *fakeStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *fakeStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// seedLink inserts a link directly, bypassing call counting.
func (s *fakeStore) seedLink(assistantID, capabilityID string, enabled bool) capability.Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	l := capability.Link{
		ID:                    fmt.Sprintf("L%d", s.seq),
		CapabilityID:          capabilityID,
		AssistantID:           assistantID,
		NotificationChannelID: "tg",
		Enabled:               enabled,
		ChannelEnabled:        true,
		CreatedAt:             int64(s.seq),
	}
	s.links[l.ID] = l
	return l
}

func (s *fakeStore) Create(ctx context.Context, l capability.Link) (*capability.Link, error) {
	s.mu.Lock()
	s.calls["create"]++
	gate, entered := s.createGate, s.createEntered
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate != nil {
		return nil, s.failCreate
	}
	for _, existing := range s.links {
		if existing.AssistantID == l.AssistantID && existing.CapabilityID == l.CapabilityID {
			return nil, fmt.Errorf("duplicate link")
		}
	}
	s.seq++
	l.ID = fmt.Sprintf("L%d", s.seq)
	l.CreatedAt = int64(s.seq)
	s.links[l.ID] = l
	return &l, nil
}

func (s *fakeStore) Delete(ctx context.Context, linkID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["delete"]++
	if s.failDelete != nil {
		return s.failDelete
	}
	if _, ok := s.links[linkID]; !ok {
		return errors.NewNotFound("link", linkID)
	}
	delete(s.links, linkID)
	return nil
}

func (s *fakeStore) ListByAssistant(ctx context.Context, assistantID string) ([]capability.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list_links"]++
	if s.failList != nil {
		return nil, s.failList
	}
	out := make([]capability.Link, 0)
	for _, l := range s.links {
		if l.AssistantID == assistantID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *fakeStore) SetChannelEnabled(ctx context.Context, linkID string, channelEnabled bool) (*capability.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["set_channel"]++
	l, ok := s.links[linkID]
	if !ok {
		return nil, errors.NewNotFound("link", linkID)
	}
	l.ChannelEnabled = channelEnabled
	s.links[linkID] = l
	return &l, nil
}

func (s *fakeStore) ListActive(ctx context.Context) ([]capability.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list_channels"]++
	out := make([]capability.Channel, 0)
	for _, ch := range s.channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (s *fakeStore) GetCapability(ctx context.Context, id string) (*capability.Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get_capability"]++
	for _, c := range s.caps {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, errors.NewNotFound("capability", id)
}

func (s *fakeStore) ListCapabilities(ctx context.Context) ([]capability.Capability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list_capabilities"]++
	return append([]capability.Capability{}, s.caps...), nil
}

func (s *fakeStore) ListAssistants(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list_assistants"]++
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, l := range s.links {
		if !seen[l.AssistantID] {
			seen[l.AssistantID] = true
			out = append(out, l.AssistantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

type harness struct {
	store    *fakeStore
	remote   *remote.Memory
	clock    *schedule.ManualClock
	registry *Registry
	coord    *Coordinator
	notices  *Notices
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newFakeStore()
	mem := remote.NewMemory()
	clock := schedule.NewManualClock(epoch)

	registry := NewRegistry(Deps{
		Links:      store,
		Channels:   store,
		Catalog:    store,
		Assistants: store,
		Remote:     mem,
	}, Options{
		SuppressionWindow: 30 * time.Second,
		SyncCooldown:      5 * time.Second,
		Retry: RetryPolicy{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     4 * time.Second,
			Multiplier:     2,
		},
		Clock: clock,
	})

	return &harness{
		store:    store,
		remote:   mem,
		clock:    clock,
		registry: registry,
		coord:    NewCoordinator(registry),
		notices:  NewNotices(clock, 10),
	}
}

func (h *harness) engine(assistantID string) *Engine {
	return h.registry.Engine(assistantID)
}

// observe refreshes with reads that start after every prior toggle.
func (h *harness) observe(t *testing.T, assistantID string) Drift {
	t.Helper()
	h.clock.Advance(time.Millisecond)
	drift, err := h.coord.Refresh(context.Background(), assistantID)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return drift
}
