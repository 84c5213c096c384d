package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the
	// timer was still pending.
	Stop() bool
}

// Scheduler is what session components use to wait. Callbacks passed to
// AfterFunc and the then func passed to Go always run on the loop.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Timer
	// Go runs work off the loop and then runs then on it. then may be nil.
	Go(work func(), then func())
}

// Runtime is a Scheduler that also accepts work from other goroutines.
type Runtime interface {
	Scheduler
	Post(fn func()) bool
	// Do runs fn on the loop and waits for it to return.
	Do(ctx context.Context, fn func()) error
}

var ErrStopped = errors.New("event loop stopped")

// Loop is a single goroutine that runs every handler to completion.
type Loop struct {
	queue  chan func()
	done   chan struct{}
	logger *slog.Logger
}

func New(buffer int, logger *slog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{queue: make(chan func(), buffer), done: make(chan struct{}), logger: logger}
}

// Run processes events until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.queue:
			l.dispatch(fn)
		}
	}
}

func (l *Loop) dispatch(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("event handler panic recovered", "error", rec)
		}
	}()
	fn()
}

// Post enqueues fn. It must not be called from the loop goroutine when the
// queue may be full.
func (l *Loop) Post(fn func()) bool {
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.queue <- wrapped:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

func (l *Loop) Go(work func(), then func()) {
	go func() {
		work()
		if then != nil {
			l.Post(then)
		}
	}()
}

// loopTimer is only touched from the loop, so stopped needs no lock. A
// callback that was already queued when Stop ran sees stopped and returns.
type loopTimer struct {
	t       *time.Timer
	stopped bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	t.t.Stop()
	return true
}
