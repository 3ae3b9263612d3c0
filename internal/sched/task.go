// Package sched provides a cancellable, reschedulable one-shot task. The
// widget uses it for reconnect backoff and the typing stop-signal debounce so
// that every timer has exactly one owner and cancellation cannot race a
// replacement timer.
package sched

import (
	"sync"
	"time"
)

// Task is a one-shot timer that runs fn after a delay. A Task may be
// rescheduled or stopped any number of times; at most one pending fire exists
// at any moment, and a fire that lost the race against Stop or Reschedule
// never runs its callback.
type Task struct {
	mu    sync.Mutex
	fn    func()
	timer *time.Timer
	gen   uint64 // incremented on every Reschedule/Stop; stale fires bail out
}

// New creates an idle Task bound to fn. The callback runs on the timer
// goroutine; it must not call back into the Task while holding locks that the
// callback's own work needs.
func New(fn func()) *Task {
	return &Task{fn: fn}
}

// Reschedule cancels any pending fire and arms the task to fire after d.
func (t *Task) Reschedule(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(d, func() {
		t.fire(gen)
	})
}

// Stop cancels any pending fire. It is a no-op on an idle task and is safe to
// call concurrently with a firing timer: a fire that has not yet entered the
// callback is abandoned.
func (t *Task) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Pending reports whether a fire is currently scheduled.
func (t *Task) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// fire runs the callback only if no Reschedule or Stop happened after the
// timer that triggered it was armed.
func (t *Task) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()

	t.fn()
}
