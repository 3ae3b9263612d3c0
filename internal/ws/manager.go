// Package ws owns the widget's transport connection: establishing it,
// keeping the connection state machine honest, and running the bounded
// reconnection policy. The rest of the widget observes the connection only
// through State values and inbound event bytes.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bloomcart/chat-widget/internal/metrics"
	"github.com/bloomcart/chat-widget/internal/sched"
)

// Config holds connection tuning parameters.
type Config struct {
	Endpoint          string        // full WebSocket URL of the widget channel
	WarmupDelay       time.Duration // fixed delay before the first attempt of a cycle
	DialTimeout       time.Duration // per-attempt handshake deadline
	InitialRetryDelay time.Duration // delay before the first retry
	MaxRetryDelay     time.Duration // backoff ceiling
	MaxRetries        int           // hard attempt cap enforced by the Manager
	Debug             bool          // verbose connection logging
}

// DefaultConfig returns the production connection tuning. The warm-up delay
// keeps rapid page navigations from producing thundering-herd reconnects.
func DefaultConfig() Config {
	return Config{
		WarmupDelay:       500 * time.Millisecond,
		DialTimeout:       10 * time.Second,
		InitialRetryDelay: 1 * time.Second,
		MaxRetryDelay:     5 * time.Second,
		MaxRetries:        3,
	}
}

// ErrNotConnected is returned by Send when no live transport exists.
var ErrNotConnected = errors.New("ws: not connected")

// MessageHandler receives each inbound text frame. Handlers run on the read
// goroutine, so frame order is preserved.
type MessageHandler func(data []byte)

// Manager owns the transport handle and the connection state machine.
//
//	disconnected --Connect()--> connecting
//	connecting   --success----> connected
//	connecting   --transient--> reconnecting
//	connecting   --fatal------> disconnected (terminal)
//	connected    --drop-------> reconnecting
//	reconnecting --success----> connected
//	reconnecting --attempt>=cap--> disconnected (until re-triggered)
//	connected    --Close()----> disconnected
type Manager struct {
	cfg       Config
	dial      DialFunc
	dialer    *Dialer // set when using the built-in dialer, for budget resets
	onMessage MessageHandler
	timer     *sched.Task

	mu           sync.Mutex
	state        State
	transport    Transport
	gen          uint64 // transport generation; stale read loops must not mutate state
	attempts     int    // consecutive failed attempts in the current outage
	fatal        bool   // a fatal failure permanently disabled reconnection
	closing      bool   // deliberate close in progress; read-loop errors are not failures
	lastActivity time.Time
	subs         []func(StateChange)
}

// NewManager creates a Manager for the given endpoint. A nil dial installs
// the built-in gobwas/ws dialer with its own attempt limit set to the
// manager's retry cap; the two limits stay independently enforced.
func NewManager(cfg Config, dial DialFunc) *Manager {
	m := &Manager{
		cfg:   cfg,
		state: StateDisconnected,
	}
	if dial == nil {
		m.dialer = &Dialer{AttemptLimit: cfg.MaxRetries}
		dial = m.dialer.Dial
	}
	m.dial = dial
	m.timer = sched.New(m.attempt)
	return m
}

// SetMessageHandler installs the inbound frame handler. Must be called before
// Connect.
func (m *Manager) SetMessageHandler(h MessageHandler) {
	m.onMessage = h
}

// Subscribe registers a callback for state transitions. Callbacks run outside
// the manager lock, in transition order.
func (m *Manager) Subscribe(fn func(StateChange)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastActivity returns when the transport last connected or delivered a
// frame. Zero until the first successful connect.
func (m *Manager) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// Connect starts a connect cycle. It is idempotent: a live connected
// transport makes it a no-op, and a cycle already in flight is left alone. A
// dead handle is torn down first. After the retry cap was hit, calling
// Connect again starts a fresh cycle with a fresh attempt budget; after a
// fatal failure it stays a no-op for the life of the process.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.fatal {
		m.mu.Unlock()
		if m.cfg.Debug {
			log.Printf("ws: connect ignored, channel previously rejected")
		}
		return
	}
	if m.state == StateConnected && m.transport != nil {
		m.mu.Unlock()
		return
	}
	if m.state == StateConnecting || m.state == StateReconnecting {
		m.mu.Unlock()
		return
	}
	if m.transport != nil {
		// Dead handle from a previous life; discard before starting over.
		m.transport.Close()
		m.transport = nil
		m.gen++
	}
	m.closing = false
	m.attempts = 0
	if m.dialer != nil {
		m.dialer.ResetBudget()
	}
	notify := m.setStateLocked(StateConnecting, nil)
	m.timer.Reschedule(m.cfg.WarmupDelay)
	m.mu.Unlock()

	notify()
}

// Close deliberately tears down the transport, as on page unload. It cancels
// any pending retry, does not count as a failure, and never triggers
// reconnection.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closing = true
	m.timer.Stop()
	m.teardownLocked()
	notify := func() {}
	if m.state != StateDisconnected {
		notify = m.setStateLocked(StateDisconnected, nil)
	}
	m.mu.Unlock()

	notify()
}

// Send writes one event frame to the server. Returns ErrNotConnected when no
// live transport exists.
func (m *Manager) Send(data []byte) error {
	m.mu.Lock()
	tr := m.transport
	st := m.state
	m.mu.Unlock()

	if st != StateConnected || tr == nil {
		return ErrNotConnected
	}
	if err := tr.WriteMessage(data); err != nil {
		return fmt.Errorf("ws: send failed: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("outbound").Inc()
	return nil
}

// attempt runs one dial. It fires from the warm-up or backoff timer.
func (m *Manager) attempt() {
	m.mu.Lock()
	if m.closing || m.fatal {
		m.mu.Unlock()
		return
	}
	url := m.cfg.Endpoint
	timeout := m.cfg.DialTimeout
	m.mu.Unlock()

	metrics.ConnectAttemptsTotal.Inc()
	if m.cfg.Debug {
		log.Printf("ws: dialing %s", url)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	start := time.Now()
	tr, err := m.dial(ctx, url)
	cancel()
	if err != nil {
		m.handleDialError(err)
		return
	}
	metrics.ConnectLatency.Observe(time.Since(start).Seconds())

	m.mu.Lock()
	if m.closing || m.fatal {
		m.mu.Unlock()
		tr.Close()
		return
	}
	m.transport = tr
	m.gen++
	gen := m.gen
	m.attempts = 0
	m.lastActivity = time.Now()
	if m.dialer != nil {
		m.dialer.ResetBudget()
	}
	notify := m.setStateLocked(StateConnected, nil)
	m.mu.Unlock()

	notify()
	go m.readLoop(gen, tr)
}

// handleDialError classifies a failed attempt. Fatal failures disable
// reconnection immediately, bypassing the retry counter; transient failures
// are retried with backoff until the manager's own cap is hit.
func (m *Manager) handleDialError(err error) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return
	}

	if IsFatal(err) {
		m.fatal = true
		m.teardownLocked()
		notify := m.setStateLocked(StateDisconnected, err)
		m.mu.Unlock()

		log.Printf("ws: channel rejected, reconnection disabled: %v", err)
		notify()
		return
	}

	m.attempts++
	if m.attempts >= m.cfg.MaxRetries {
		m.teardownLocked()
		notify := m.setStateLocked(StateDisconnected, err)
		attempts := m.attempts
		m.mu.Unlock()

		log.Printf("ws: giving up after %d attempts: %v", attempts, err)
		notify()
		return
	}

	delay := m.backoffLocked()
	notify := m.setStateLocked(StateReconnecting, err)
	m.timer.Reschedule(delay)
	attempts := m.attempts
	m.mu.Unlock()

	metrics.ReconnectsTotal.Inc()
	if m.cfg.Debug {
		log.Printf("ws: attempt %d failed, retrying in %s: %v", attempts, delay, err)
	}
	notify()
}

// readLoop pumps inbound frames to the message handler until the transport
// dies. A generation check keeps a loop whose transport was replaced from
// mutating manager state.
func (m *Manager) readLoop(gen uint64, tr Transport) {
	for {
		data, err := tr.ReadMessage()
		if err != nil {
			m.handleDrop(gen, err)
			return
		}
		metrics.MessagesTotal.WithLabelValues("inbound").Inc()
		m.mu.Lock()
		if gen == m.gen {
			m.lastActivity = time.Now()
		}
		m.mu.Unlock()
		if m.onMessage != nil {
			m.onMessage(data)
		}
	}
}

// handleDrop reacts to a connected transport dying underneath us.
func (m *Manager) handleDrop(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.closing || m.fatal {
		m.mu.Unlock()
		return
	}
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.gen++
	m.attempts = 0
	notify := m.setStateLocked(StateReconnecting, err)
	m.timer.Reschedule(m.cfg.InitialRetryDelay)
	m.mu.Unlock()

	metrics.ReconnectsTotal.Inc()
	if m.cfg.Debug {
		log.Printf("ws: connection dropped, retrying in %s: %v", m.cfg.InitialRetryDelay, err)
	}
	notify()
}

// backoffLocked computes the delay before the next attempt: the initial delay
// doubled per consecutive failure, capped at the configured ceiling.
func (m *Manager) backoffLocked() time.Duration {
	d := m.cfg.InitialRetryDelay
	for i := 1; i < m.attempts; i++ {
		d *= 2
		if d >= m.cfg.MaxRetryDelay {
			return m.cfg.MaxRetryDelay
		}
	}
	if d > m.cfg.MaxRetryDelay {
		d = m.cfg.MaxRetryDelay
	}
	return d
}

// teardownLocked discards the transport handle and invalidates any read loop
// still attached to it. Callers hold the manager lock.
func (m *Manager) teardownLocked() {
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}
	m.gen++
}

// setStateLocked records a transition and returns a closure that notifies
// subscribers. The closure must be invoked after releasing the manager lock
// so subscribers can call back into the Manager.
func (m *Manager) setStateLocked(next State, err error) func() {
	if m.state == next {
		return func() {}
	}
	change := StateChange{Old: m.state, New: next, Err: err}
	m.state = next
	metrics.ConnectionState.Set(float64(next))

	subs := make([]func(StateChange), len(m.subs))
	copy(subs, m.subs)
	return func() {
		for _, fn := range subs {
			fn(change)
		}
	}
}
