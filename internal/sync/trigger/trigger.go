// Package trigger schedules sync passes: periodic when online, on
// connectivity regain, and on demand from the API.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/mensahk/fieldcite/internal/logging"
)

// PassRunner runs one sync pass. Concurrent calls are coalesced by the
// runner itself; the scheduler only needs to fire triggers.
type PassRunner interface {
	RunPass(ctx context.Context) error
}

// RunnerFunc adapts a function to the PassRunner interface.
type RunnerFunc func(ctx context.Context) error

// RunPass calls the function.
func (f RunnerFunc) RunPass(ctx context.Context) error { return f(ctx) }

// Connectivity reports the device's network state and announces
// transitions.
type Connectivity interface {
	// Online reports the current connectivity state.
	Online() bool

	// Changes delivers the new state on every transition.
	Changes() <-chan bool
}

// WakeSource is the platform hook for deferred sync: when the device
// goes offline, the scheduler asks the platform to wake it once
// connectivity returns.
type WakeSource interface {
	RequestWake() error
}

// NoopWakeSource is used on platforms without deferred-sync support;
// the periodic ticker covers the gap.
type NoopWakeSource struct{}

// RequestWake does nothing.
func (NoopWakeSource) RequestWake() error { return nil }

// DefaultInterval is the periodic sync interval when online.
const DefaultInterval = 30 * time.Second

// Scheduler funnels every sync trigger into the runner: a periodic
// ticker gated on connectivity, connectivity-regain events, and manual
// TriggerNow calls.
type Scheduler struct {
	runner       PassRunner
	connectivity Connectivity
	wake         WakeSource
	interval     time.Duration

	triggerCh chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// Config holds scheduler construction parameters.
type Config struct {
	Interval time.Duration
	Wake     WakeSource
}

// NewScheduler creates a Scheduler driving the given runner.
func NewScheduler(runner PassRunner, connectivity Connectivity, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Wake == nil {
		cfg.Wake = NoopWakeSource{}
	}
	return &Scheduler{
		runner:       runner,
		connectivity: connectivity,
		wake:         cfg.Wake,
		interval:     cfg.Interval,
		triggerCh:    make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the scheduling loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	logging.Info("Sync scheduler started",
		map[string]interface{}{"interval_seconds": s.interval.Seconds()})
}

// Stop halts scheduling and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

// TriggerNow requests an immediate pass. Requests arriving while one is
// already queued are coalesced.
func (s *Scheduler) TriggerNow() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// IsRunning reports whether the scheduling loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.connectivity.Online() {
				continue
			}
			s.run(ctx)
		case online, ok := <-s.connectivity.Changes():
			if !ok {
				continue
			}
			if online {
				logging.Info("Connectivity regained, triggering sync", nil)
				s.run(ctx)
			} else {
				logging.Info("Connectivity lost, requesting platform wake", nil)
				if err := s.wake.RequestWake(); err != nil {
					logging.Error("Platform wake request failed", err, nil)
				}
			}
		case <-s.triggerCh:
			s.run(ctx)
		}
	}
}

// run executes one pass synchronously so Stop can drain it.
func (s *Scheduler) run(ctx context.Context) {
	if err := s.runner.RunPass(ctx); err != nil {
		logging.Error("Scheduled sync pass failed", err, nil)
	}
}
