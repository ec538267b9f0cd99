package runner

import (
	"context"
	"testing"
	"time"
)

type testDrainer struct {
	delay   time.Duration
	drained chan struct{}
}

func (d *testDrainer) Drain() error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	close(d.drained)
	return nil
}

func TestRunStopDrains(t *testing.T) {
	d := &testDrainer{drained: make(chan struct{})}
	started := make(chan struct{})
	r := NewLifecycleRunner(d, Hooks{OnStart: func() { close(started) }}, time.Second)

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	<-started

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-d.drained:
	default:
		t.Error("drainer never ran")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run never returned")
	}
	if r.State() != StateStopped {
		t.Errorf("state = %v", r.State())
	}
}

func TestDrainTimeout(t *testing.T) {
	d := &testDrainer{delay: 500 * time.Millisecond, drained: make(chan struct{})}
	r := NewLifecycleRunner(d, Hooks{}, 20*time.Millisecond)

	go func() { _ = r.Run(context.Background()) }()
	time.Sleep(10 * time.Millisecond)

	err := r.Stop()
	if err == nil || err.Error() != "drain timeout" {
		t.Errorf("Stop = %v", err)
	}
}

func TestDoubleRunRejected(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	go func() { _ = r.Run(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	if err := r.Run(context.Background()); err == nil {
		t.Error("second Run did not fail")
	}
	_ = r.Stop()
}
