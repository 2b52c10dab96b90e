package reconcile

import "sync"

// AssistantLocks serializes remote-mutating calls per assistant so a
// replace-all never interleaves with a single add or remove.
type AssistantLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAssistantLocks returns an empty lock table.
func NewAssistantLocks() *AssistantLocks {
	return &AssistantLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until the assistant's lock is held and returns its release.
func (l *AssistantLocks) Lock(assistantID string) func() {
	l.mu.Lock()
	m, ok := l.locks[assistantID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[assistantID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
