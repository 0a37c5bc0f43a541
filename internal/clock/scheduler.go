package clock

import (
	"context"
	"sync"
	"time"
)

// #region scheduler

// Scheduler drives a function on a fixed period plus on-demand triggers.
// The controller's evaluation cycle hangs off one of these; Trigger gives
// operators and tests an immediate run without waiting out the period.
type Scheduler struct {
	interval time.Duration
	fn       func(context.Context)

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewScheduler builds a scheduler; fn runs serially, never overlapped.
// A non-positive interval disables the periodic tick (trigger-only mode).
func NewScheduler(interval time.Duration, fn func(context.Context)) *Scheduler {
	return &Scheduler{
		interval: interval,
		fn:       fn,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		started:  make(chan struct{}),
	}
}

// Start launches the scheduling loop. Subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		close(s.started)
		go s.run(ctx)
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	var tick <-chan time.Time
	if s.interval > 0 {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-tick:
			s.fn(ctx)
		case <-s.trigger:
			s.fn(ctx)
		}
	}
}

// Trigger requests an immediate run. Requests arriving while a run is
// already pending coalesce into one.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Stop terminates the loop and waits for it to exit. Stopping a scheduler
// that was never started is a no-op.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.started:
		<-s.done
	default:
	}
}

// #endregion scheduler
