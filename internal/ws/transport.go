package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Transport is a live bidirectional event channel to the chat server. The
// Manager owns the handle exclusively; no other component touches it.
type Transport interface {
	// ReadMessage blocks until the next text frame arrives. Control frames
	// are consumed internally.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one text frame. Safe for concurrent use.
	WriteMessage(data []byte) error

	// Close tears down the underlying connection.
	Close() error
}

// DialFunc establishes a Transport to the given URL. The Manager accepts any
// DialFunc so tests can substitute a scripted transport.
type DialFunc func(ctx context.Context, url string) (Transport, error)

// FatalError wraps a connection failure that must not be retried, such as the
// server rejecting the widget endpoint outright.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("ws: fatal connection error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether a dial failure permanently disables reconnection.
// A rejected WebSocket handshake (non-101 status) means the endpoint refused
// the widget channel and retrying cannot help.
func IsFatal(err error) bool {
	var fe *FatalError
	if errors.As(err, &fe) {
		return true
	}
	var se ws.StatusError
	return errors.As(err, &se)
}

// ErrRetryBudgetExhausted is returned by a Dialer whose own attempt limit has
// been consumed for the current connect cycle.
var ErrRetryBudgetExhausted = errors.New("ws: dialer retry budget exhausted")

// Dialer dials the chat server over WebSocket using gobwas/ws. It carries its
// own attempt limit per connect cycle, separate from the Manager's retry cap;
// both limits are enforced independently.
type Dialer struct {
	// AttemptLimit is the maximum number of dials per connect cycle.
	// Zero means unlimited.
	AttemptLimit int

	mu   sync.Mutex
	used int
}

// Dial implements DialFunc.
func (d *Dialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	if d.AttemptLimit > 0 && d.used >= d.AttemptLimit {
		d.mu.Unlock()
		return nil, ErrRetryBudgetExhausted
	}
	d.used++
	d.mu.Unlock()

	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

// ResetBudget restores the full attempt limit. The Manager calls this at the
// start of every user-triggered connect cycle.
func (d *Dialer) ResetBudget() {
	d.mu.Lock()
	d.used = 0
	d.mu.Unlock()
}

// wsTransport adapts a gobwas/ws client connection to the Transport
// interface. The write mutex serializes outbound frames so concurrent sends
// do not interleave frame bytes.
type wsTransport struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	return wsutil.ReadServerText(t.conn)
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return wsutil.WriteClientMessage(t.conn, ws.OpText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
