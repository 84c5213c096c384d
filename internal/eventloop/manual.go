package eventloop

import (
	"context"
	"sort"
	"time"
)

// ManualScheduler is a Runtime driven by virtual time. Everything runs on
// the caller's goroutine: timers fire inside Advance, Post and Do run
// immediately. With Deferred set, Go queues its work until Flush.
type ManualScheduler struct {
	Deferred bool

	now     time.Duration
	seq     int
	timers  []*manualTimer
	pending []func()
}

func NewManual() *ManualScheduler { return &ManualScheduler{} }

type manualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Now is the virtual time elapsed since the scheduler was created.
func (m *ManualScheduler) Now() time.Duration { return m.now }

func (m *ManualScheduler) AfterFunc(d time.Duration, fn func()) Timer {
	m.seq++
	t := &manualTimer{at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves virtual time forward by d, firing due timers in order.
// Timers scheduled by callbacks fire too if they fall inside the window.
func (m *ManualScheduler) Advance(d time.Duration) {
	target := m.now + d
	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.stopped = true
		next.fn()
	}
	m.now = target
}

func (m *ManualScheduler) nextDue(target time.Duration) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].at != m.timers[j].at {
			return m.timers[i].at < m.timers[j].at
		}
		return m.timers[i].seq < m.timers[j].seq
	})
	if len(m.timers) == 0 || m.timers[0].at > target {
		return nil
	}
	return m.timers[0]
}

// Armed counts timers that have not fired or been stopped.
func (m *ManualScheduler) Armed() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (m *ManualScheduler) Go(work func(), then func()) {
	run := func() {
		work()
		if then != nil {
			then()
		}
	}
	if m.Deferred {
		m.pending = append(m.pending, run)
		return
	}
	run()
}

// Flush runs work queued by Go while Deferred was set.
func (m *ManualScheduler) Flush() {
	for len(m.pending) > 0 {
		next := m.pending[0]
		m.pending = m.pending[1:]
		next()
	}
}

func (m *ManualScheduler) Post(fn func()) bool {
	fn()
	return true
}

func (m *ManualScheduler) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}
