package chat

import (
	"time"

	"github.com/bloomcart/chat-widget/internal/metrics"
	"github.com/bloomcart/chat-widget/internal/sched"
)

// DefaultTypingIdle is how long after the last keystroke the coordinator
// waits before emitting the trailing stop signal.
const DefaultTypingIdle = 2 * time.Second

// TypingCoordinator debounces the customer's typing state. Every input
// change emits the current state immediately; the stop signal is emitted only
// once, when the idle timer outlives the last keystroke. This is debouncing,
// not throttling: rapid typing produces a burst of true signals but exactly
// one trailing false.
type TypingCoordinator struct {
	idle   time.Duration
	active func() bool // connected transport AND confirmed session
	emit   func(isTyping bool)
	stop   *sched.Task
}

// NewTypingCoordinator creates a coordinator. emit runs on the caller's
// goroutine for input changes and on the timer goroutine for the trailing
// stop.
func NewTypingCoordinator(idle time.Duration, active func() bool, emit func(bool)) *TypingCoordinator {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	c := &TypingCoordinator{
		idle:   idle,
		active: active,
		emit:   emit,
	}
	c.stop = sched.New(c.fireStop)
	return c
}

// InputChanged reports the current composer content. Typing state is derived
// from content length and emitted immediately when the session is connected
// and confirmed; otherwise the call is a no-op. A non-empty change rearms the
// idle timer, an explicit clear emits the stop signal right away and disarms
// it.
func (c *TypingCoordinator) InputChanged(content string) {
	if !c.active() {
		return
	}

	isTyping := len(content) > 0
	c.emit(isTyping)
	metrics.TypingSignalsTotal.Inc()

	if isTyping {
		c.stop.Reschedule(c.idle)
	} else {
		c.stop.Stop()
	}
}

// Cancel disarms the pending stop signal without emitting anything. Called on
// disconnect so a stray timer cannot fire into a dead transport.
func (c *TypingCoordinator) Cancel() {
	c.stop.Stop()
}

// fireStop emits the trailing stop signal when the idle timer outlives the
// last keystroke.
func (c *TypingCoordinator) fireStop() {
	if !c.active() {
		return
	}
	c.emit(false)
	metrics.TypingSignalsTotal.Inc()
}
