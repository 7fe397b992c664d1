// Package overlay wires together the router, pub/sub engine, per-peer
// handlers, and the Call/Notify/Ack engine into the running node
// described in spec.md §4.5-§4.9. Its concurrency primitives
// (Alarm, WorkerPool) are deliberately stdlib-only: no library in the
// example pack offers a bounded-pool/rescheduleable-timer abstraction,
// and the teacher's own concurrency idiom throughout core is plain
// sync+time+goroutines rather than a third-party scheduler.
package overlay

import (
	"sync"
	"time"
)

// Alarm is a single-shot, rescheduleable timer bound to a callback
// (spec.md §4.9). Guarantees exactly one execution per fired schedule
// and supports safe self-cancellation from inside the callback.
type Alarm struct {
	mu      sync.Mutex
	timer   *time.Timer
	fn      func()
	running bool
}

// NewAlarm creates an Alarm bound to fn. The alarm is not scheduled
// until Schedule or ScheduleAt is called.
func NewAlarm(fn func()) *Alarm {
	return &Alarm{fn: fn}
}

// Schedule arms the alarm to fire after delay, replacing any pending
// schedule.
func (a *Alarm) Schedule(delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.timer = time.AfterFunc(delay, a.fire)
}

// ScheduleAt arms the alarm to fire at deadline.
func (a *Alarm) ScheduleAt(deadline time.Time) {
	a.Schedule(time.Until(deadline))
}

func (a *Alarm) fire() {
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	a.fn()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

// Cancel stops a pending schedule. Calling Cancel from inside the
// bound callback is safe and a no-op (the firing execution still
// completes).
func (a *Alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *Alarm) stopLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Join blocks until any in-flight execution of the callback returns.
// It does not wait for a future schedule to fire.
func (a *Alarm) Join() {
	for {
		a.mu.Lock()
		running := a.running
		a.mu.Unlock()
		if !running {
			return
		}
		time.Sleep(time.Millisecond)
	}
}
