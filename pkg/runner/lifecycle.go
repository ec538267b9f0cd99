package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// LifecycleRunner blocks in Run until the context ends or Stop is
// called, then drains in-flight turns within the timeout.
type LifecycleRunner struct {
	state        int32
	ctx          context.Context
	cancel       context.CancelFunc
	stopOnce     sync.Once
	hooks        Hooks
	drainer      Drainer
	drainTimeout time.Duration
	stopErr      error
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, drainTimeout time.Duration) *LifecycleRunner {
	if drainTimeout <= 0 {
		drainTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LifecycleRunner{
		state:        int32(StateNew),
		ctx:          ctx,
		cancel:       cancel,
		hooks:        hooks,
		drainer:      drainer,
		drainTimeout: drainTimeout,
	}
}

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.state, int32(StateNew), int32(StateStarting)) {
		return errors.New("runner already started")
	}
	PrintBanner()
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	atomic.StoreInt32(&r.state, int32(StateRunning))
	<-r.ctx.Done()
	return r.shutdown()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.shutdown()
}

func (r *LifecycleRunner) State() State {
	return State(atomic.LoadInt32(&r.state))
}

func (r *LifecycleRunner) shutdown() error {
	r.stopOnce.Do(func() {
		atomic.StoreInt32(&r.state, int32(StateDraining))
		if r.drainer != nil {
			drained := make(chan struct{})
			go func() {
				_ = r.drainer.Drain()
				close(drained)
			}()
			select {
			case <-drained:
			case <-time.After(r.drainTimeout):
				r.stopErr = errors.New("drain timeout")
			}
		}
		if r.hooks.OnStop != nil {
			r.hooks.OnStop()
		}
		atomic.StoreInt32(&r.state, int32(StateStopped))
	})
	return r.stopErr
}
