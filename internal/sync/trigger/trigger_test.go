package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	passes atomic.Int64
}

func (r *countingRunner) RunPass(ctx context.Context) error {
	r.passes.Add(1)
	return nil
}

func waitForPasses(t *testing.T, r *countingRunner, want int64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if r.passes.Load() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("expected at least %d passes, got %d", want, r.passes.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestScheduler_tickerRunsWhenOnline(t *testing.T) {
	runner := &countingRunner{}
	conn := NewManualConnectivity(true)
	s := NewScheduler(runner, conn, Config{Interval: 20 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	waitForPasses(t, runner, 2)
}

func TestScheduler_tickerGatedOffline(t *testing.T) {
	runner := &countingRunner{}
	conn := NewManualConnectivity(false)
	s := NewScheduler(runner, conn, Config{Interval: 20 * time.Millisecond})

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := runner.passes.Load(); got != 0 {
		t.Errorf("expected no passes while offline, got %d", got)
	}
}

func TestScheduler_connectivityRegainTriggersPass(t *testing.T) {
	runner := &countingRunner{}
	conn := NewManualConnectivity(false)
	s := NewScheduler(runner, conn, Config{Interval: time.Hour})

	s.Start(context.Background())
	defer s.Stop()

	conn.Set(true)
	waitForPasses(t, runner, 1)
}

func TestScheduler_connectivityLossRequestsWake(t *testing.T) {
	runner := &countingRunner{}
	conn := NewManualConnectivity(true)
	woken := make(chan struct{}, 1)
	s := NewScheduler(runner, conn, Config{
		Interval: time.Hour,
		Wake:     wakeFunc(func() error { woken <- struct{}{}; return nil }),
	})

	s.Start(context.Background())
	defer s.Stop()

	conn.Set(false)
	select {
	case <-woken:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a platform wake request on connectivity loss")
	}
}

type wakeFunc func() error

func (f wakeFunc) RequestWake() error { return f() }

func TestScheduler_triggerNow(t *testing.T) {
	runner := &countingRunner{}
	conn := NewManualConnectivity(true)
	s := NewScheduler(runner, conn, Config{Interval: time.Hour})

	s.Start(context.Background())
	defer s.Stop()

	s.TriggerNow()
	waitForPasses(t, runner, 1)
}

func TestScheduler_stopDrains(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	finished := atomic.Bool{}
	runner := RunnerFunc(func(ctx context.Context) error {
		close(started)
		<-release
		finished.Store(true)
		return nil
	})
	conn := NewManualConnectivity(true)
	s := NewScheduler(runner, conn, Config{Interval: time.Hour})

	s.Start(context.Background())
	s.TriggerNow()
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}
	if !finished.Load() {
		t.Error("expected the in-flight pass to complete before Stop returned")
	}
}

func TestScheduler_startIdempotent(t *testing.T) {
	runner := &countingRunner{}
	conn := NewManualConnectivity(true)
	s := NewScheduler(runner, conn, Config{Interval: time.Hour})

	s.Start(context.Background())
	s.Start(context.Background())
	if !s.IsRunning() {
		t.Error("expected scheduler running")
	}
	s.Stop()
	if s.IsRunning() {
		t.Error("expected scheduler stopped")
	}
}

func TestManualConnectivity_transitionsOnly(t *testing.T) {
	conn := NewManualConnectivity(false)

	conn.Set(false) // no transition
	conn.Set(true)
	conn.Set(true) // no transition

	select {
	case online := <-conn.Changes():
		if !online {
			t.Error("expected online transition")
		}
	default:
		t.Fatal("expected one transition event")
	}
	select {
	case <-conn.Changes():
		t.Fatal("expected repeated reports to be dropped")
	default:
	}
}
