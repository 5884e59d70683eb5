package ai

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Probing cadence. The first probe fires immediately on Start so a fresh
// session never waits a full interval for its availability snapshot.
const (
	DefaultProbeInterval = 30 * time.Second
	probeTimeout         = 5 * time.Second
)

// Status is the cached result of the latest local availability probe.
type Status struct {
	Available bool
	Models    []string
}

// ModelLister is the probe surface of the local provider.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Monitor periodically probes the local provider's reachability and
// enumerates its installed models. It is an owned, cancelable task: the
// session pipeline holds the handle, starts it once per session and stops
// it on teardown. Probe failures never surface as errors; they only flip
// the cached availability flag.
type Monitor struct {
	lister   ModelLister
	interval time.Duration
	onStatus func(Status) // invoked after every probe, on the monitor goroutine

	mu      sync.RWMutex
	status  Status
	started bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor for the given prober. onStatus may be nil.
func NewMonitor(lister ModelLister, interval time.Duration, onStatus func(Status)) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		lister:   lister,
		interval: interval,
		onStatus: onStatus,
	}
}

// Start begins probing: once immediately, then on the fixed interval until
// Stop is called. Starting an already started monitor is a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.run(ctx)
}

// Stop cancels the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

// Status returns the latest cached probe result.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := m.status
	status.Models = append([]string(nil), m.status.Models...)
	return status
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	status := Status{}
	models, err := m.lister.ListModels(probeCtx)
	if err != nil {
		slog.Debug("local availability probe failed", "error", err)
	} else {
		status.Available = true
		status.Models = models
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	if m.onStatus != nil {
		m.onStatus(status)
	}
}
