package offer

import (
	"errors"
	"time"

	"github.com/example/driver-session/internal/eventloop"
	"github.com/example/driver-session/internal/models"
)

// UrgentThreshold is the remaining time at which a countdown turns urgent.
const UrgentThreshold = 5

var (
	ErrTimerRunning    = errors.New("offer timer already running")
	ErrInvalidDuration = errors.New("offer timer needs a positive duration")
)

// Timer is a one-second countdown for a single offer.
type Timer struct {
	sched     eventloop.Scheduler
	next      eventloop.Timer
	remaining int
	urgent    bool
	gen       int
	onTick    func(models.Tick)
	onExpire  func()
}

func NewTimer(sched eventloop.Scheduler) *Timer {
	return &Timer{sched: sched}
}

func (t *Timer) Running() bool { return t.next != nil }

// Remaining is the number of ticks left.
func (t *Timer) Remaining() int { return t.remaining }

// Start begins counting down. onExpire runs right after the tick that
// reaches zero and never after Cancel.
func (t *Timer) Start(seconds int, onTick func(models.Tick), onExpire func()) error {
	if t.Running() {
		return ErrTimerRunning
	}
	if seconds <= 0 {
		return ErrInvalidDuration
	}
	t.gen++
	t.remaining = seconds
	t.urgent = seconds <= UrgentThreshold
	t.onTick = onTick
	t.onExpire = onExpire
	t.arm()
	return nil
}

// Cancel stops the countdown. It reports whether the timer was running.
func (t *Timer) Cancel() bool {
	t.gen++
	if t.next == nil {
		return false
	}
	t.next.Stop()
	t.next = nil
	t.onTick, t.onExpire = nil, nil
	return true
}

func (t *Timer) arm() {
	t.next = t.sched.AfterFunc(time.Second, t.tick)
}

func (t *Timer) tick() {
	t.remaining--
	tick := models.Tick{Remaining: t.remaining, Urgent: t.remaining <= UrgentThreshold}
	if tick.Urgent && !t.urgent {
		t.urgent = true
		tick.BecameUrgent = true
	}
	gen := t.gen
	onTick, onExpire := t.onTick, t.onExpire
	if t.remaining > 0 {
		t.arm()
	} else {
		t.next = nil
		t.onTick, t.onExpire = nil, nil
	}
	if onTick != nil {
		onTick(tick)
	}
	// onTick may have cancelled us
	if t.remaining <= 0 && onExpire != nil && gen == t.gen {
		onExpire()
	}
}
