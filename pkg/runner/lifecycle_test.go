package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDrainer struct {
	delay   time.Duration
	drained atomic.Bool
}

func (d *fakeDrainer) Drain() error {
	time.Sleep(d.delay)
	d.drained.Store(true)
	return nil
}

func TestLifecycleRunThroughStop(t *testing.T) {
	drainer := &fakeDrainer{}
	var started, stopped atomic.Bool
	r := NewLifecycleRunner(drainer, Hooks{
		OnStart: func() { started.Store(true) },
		OnStop:  func() { stopped.Store(true) },
	}, time.Second)
	r.DisableBanner()

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.State() != StateRunning {
		t.Fatalf("state = %v, want running", r.State())
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	if !started.Load() || !stopped.Load() || !drainer.drained.Load() {
		t.Fatal("hooks or drain not invoked")
	}
	if r.State() != StateStopped {
		t.Fatalf("final state = %v", r.State())
	}
}

func TestLifecycleDrainTimeout(t *testing.T) {
	drainer := &fakeDrainer{delay: 500 * time.Millisecond}
	r := NewLifecycleRunner(drainer, Hooks{}, 50*time.Millisecond)
	r.DisableBanner()

	go func() { _ = r.Run(context.Background()) }()
	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	err := r.Stop()
	if err == nil || err.Error() != "drain timeout" {
		t.Fatalf("Stop err = %v, want drain timeout", err)
	}
}

func TestLifecycleRejectsSecondRun(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	r.DisableBanner()
	go func() { _ = r.Run(context.Background()) }()
	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Run(context.Background()); err == nil {
		t.Fatal("second Run succeeded")
	}
	_ = r.Stop()
}

func TestLifecycleStopCancelsContext(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	r.DisableBanner()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after ctx cancel")
	}
}
