package schedule

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker invokes a callback at a fixed interval until stopped.
// Paused tickers drop ticks instead of queueing them.
type Ticker interface {
	Start(fn func()) error
	Pause()
	Resume()
	Stop()
}

// CronTicker is a Ticker backed by robfig/cron using an "@every" schedule.
type CronTicker struct {
	spec   string
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	paused  bool
	running bool
}

// NewCronTicker builds a ticker firing every interval. interval accepts
// Go duration syntax ("15s") or a full cron spec ("@every 15s", "*/1 * * * *").
func NewCronTicker(interval string, logger *slog.Logger) (*CronTicker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return nil, fmt.Errorf("poll interval is required")
	}

	spec := interval
	if d, err := time.ParseDuration(interval); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("poll interval must be positive, got %s", interval)
		}
		spec = "@every " + d.String()
	}

	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid poll interval %q: %w", interval, err)
	}

	return &CronTicker{spec: spec, logger: logger}, nil
}

// Spec returns the cron spec in use.
func (t *CronTicker) Spec() string {
	return t.spec
}

// Start registers fn with cron and starts the scheduler.
func (t *CronTicker) Start(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("ticker already started")
	}

	// SkipIfStillRunning keeps a slow poll from overlapping the next one.
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(t.spec, func() {
		t.mu.Lock()
		paused := t.paused
		t.mu.Unlock()
		if paused {
			return
		}
		fn()
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", t.spec, err)
	}

	c.Start()
	t.cron = c
	t.running = true
	t.logger.Info("poll ticker started", "spec", t.spec)
	return nil
}

// Pause drops ticks until Resume.
func (t *CronTicker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// Resume re-enables ticks.
func (t *CronTicker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

// Stop halts the scheduler and waits for a running tick to finish.
func (t *CronTicker) Stop() {
	t.mu.Lock()
	c := t.cron
	t.cron = nil
	t.running = false
	t.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	t.logger.Info("poll ticker stopped", "spec", t.spec)
}

// ManualTicker fires only when Tick is called.
type ManualTicker struct {
	mu     sync.Mutex
	fn     func()
	paused bool
	ticks  int
}

// NewManualTicker returns an unstarted ManualTicker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{}
}

// Start records fn.
func (t *ManualTicker) Start(fn func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fn != nil {
		return fmt.Errorf("ticker already started")
	}
	t.fn = fn
	return nil
}

// Tick invokes the callback synchronously unless paused or stopped.
// It reports whether the callback ran.
func (t *ManualTicker) Tick() bool {
	t.mu.Lock()
	fn := t.fn
	paused := t.paused
	t.mu.Unlock()

	if fn == nil || paused {
		return false
	}
	fn()

	t.mu.Lock()
	t.ticks++
	t.mu.Unlock()
	return true
}

// Ticks returns how many ticks ran the callback.
func (t *ManualTicker) Ticks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

// Pause drops ticks until Resume.
func (t *ManualTicker) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
}

// Resume re-enables ticks.
func (t *ManualTicker) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

// Stop forgets the callback.
func (t *ManualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = nil
}
