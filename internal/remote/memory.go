package remote

import (
	"context"
	"sync"

	"github.com/hpungsan/switchboard/internal/capability"
)

// Operation names accepted by Memory.Fail and Memory.Calls.
const (
	OpListActive   = "list_active"
	OpAddOne       = "add_one"
	OpRemoveByName = "remove_by_name"
	OpReplaceAll   = "replace_all"
)

// Memory is an in-process Source. It is used when no remote base URL is
// configured and by tests, which can inject failures per operation.
type Memory struct {
	mu     sync.Mutex
	active map[string][]string
	fail   map[string][]error
	calls  map[string]int
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{
		active: make(map[string][]string),
		fail:   make(map[string][]error),
		calls:  make(map[string]int),
	}
}

// Set replaces an assistant's active names without recording a call.
func (m *Memory) Set(assistantID string, names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[assistantID] = append([]string{}, names...)
}

// Fail queues errors returned by the next calls of op, one per call.
func (m *Memory) Fail(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = append(m.fail[op], errs...)
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// begin records a call and pops a queued failure. Caller holds mu.
func (m *Memory) begin(ctx context.Context, op string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if queue := m.fail[op]; len(queue) > 0 {
		err := queue[0]
		m.fail[op] = queue[1:]
		return err
	}
	return nil
}

// ListActive implements Source.
func (m *Memory) ListActive(ctx context.Context, assistantID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpListActive); err != nil {
		return nil, err
	}
	return append([]string{}, m.active[assistantID]...), nil
}

// AddOne implements Source.
func (m *Memory) AddOne(ctx context.Context, assistantID string, item capability.Capability) (AddResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpAddOne); err != nil {
		return AddResult{}, err
	}

	name := capability.RemoteNameFor(item, m.active[assistantID])
	for _, n := range m.active[assistantID] {
		if n == name {
			return AddResult{Added: false, Name: name}, nil
		}
	}
	m.active[assistantID] = append(m.active[assistantID], name)
	return AddResult{Added: true, Name: name}, nil
}

// RemoveByName implements Source.
func (m *Memory) RemoveByName(ctx context.Context, assistantID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpRemoveByName); err != nil {
		return err
	}

	kept := m.active[assistantID][:0:0]
	for _, n := range m.active[assistantID] {
		if n != name {
			kept = append(kept, n)
		}
	}
	m.active[assistantID] = kept
	return nil
}

// ReplaceAll implements Source.
func (m *Memory) ReplaceAll(ctx context.Context, assistantID string, names []string) (ReplaceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpReplaceAll); err != nil {
		return ReplaceResult{}, err
	}

	res := Diff(m.active[assistantID], names)

	seen := make(map[string]bool, len(names))
	next := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			next = append(next, n)
			seen[n] = true
		}
	}
	m.active[assistantID] = next
	return res, nil
}
