package ws

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test fixtures: a scripted transport and dialer
// ---------------------------------------------------------------------------

// fakeTransport is a Transport whose inbound frames are fed by the test and
// whose read fails once the transport is closed or dropped.
type fakeTransport struct {
	in        chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.done:
		return nil, io.EOF
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	select {
	case <-t.done:
		return io.ErrClosedPipe
	default:
	}
	t.mu.Lock()
	t.sent = append(t.sent, data)
	t.mu.Unlock()
	return nil
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// drop simulates the server side going away: the pending read fails.
func (t *fakeTransport) drop() {
	t.Close()
}

// fakeDialer returns scripted results per attempt and counts dials.
type fakeDialer struct {
	mu      sync.Mutex
	dials   int
	results []dialResult // consumed in order; last entry repeats
}

type dialResult struct {
	tr  *fakeTransport
	err error
}

func (d *fakeDialer) dial(_ context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	if i >= len(d.results) {
		i = len(d.results) - 1
	}
	r := d.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return r.tr, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func testConfig() Config {
	return Config{
		Endpoint:          "ws://example.test/widget",
		WarmupDelay:       time.Millisecond,
		DialTimeout:       time.Second,
		InitialRetryDelay: 5 * time.Millisecond,
		MaxRetryDelay:     20 * time.Millisecond,
		MaxRetries:        3,
	}
}

// recorder captures state transitions in order.
type recorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *recorder) record(sc StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, sc)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StateChange, len(r.changes))
	copy(out, r.changes)
	return out
}

// waitForState polls until the manager reaches want or the deadline passes.
func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, still %v", want, m.State())
}

// settle waits long enough for any stray retry timer to have fired.
func settle() {
	time.Sleep(100 * time.Millisecond)
}

// ---------------------------------------------------------------------------
// Test: Successful connect walks disconnected -> connecting -> connected
// ---------------------------------------------------------------------------

func TestManager_ConnectSuccess(t *testing.T) {
	d := &fakeDialer{results: []dialResult{{tr: newFakeTransport()}}}
	m := NewManager(testConfig(), d.dial)
	rec := &recorder{}
	m.Subscribe(rec.record)

	m.Connect()
	waitForState(t, m, StateConnected)

	changes := rec.snapshot()
	if len(changes) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %v", len(changes), changes)
	}
	if changes[0].Old != StateDisconnected || changes[0].New != StateConnecting {
		t.Errorf("unexpected first transition: %+v", changes[0])
	}
	if changes[1].Old != StateConnecting || changes[1].New != StateConnected {
		t.Errorf("unexpected second transition: %+v", changes[1])
	}
	if d.count() != 1 {
		t.Errorf("expected 1 dial, got %d", d.count())
	}
}

// ---------------------------------------------------------------------------
// Test: Connect is idempotent while connected or in flight
// ---------------------------------------------------------------------------

func TestManager_ConnectIdempotent(t *testing.T) {
	d := &fakeDialer{results: []dialResult{{tr: newFakeTransport()}}}
	m := NewManager(testConfig(), d.dial)

	m.Connect()
	m.Connect() // cycle in flight
	waitForState(t, m, StateConnected)
	m.Connect() // live transport
	settle()

	if d.count() != 1 {
		t.Errorf("expected 1 dial despite repeated Connect calls, got %d", d.count())
	}
}

// ---------------------------------------------------------------------------
// Test: Exactly 3 transient failures settle to disconnected with no further
// attempts
// ---------------------------------------------------------------------------

func TestManager_TransientFailuresExhaustCap(t *testing.T) {
	d := &fakeDialer{results: []dialResult{{err: errors.New("connection refused")}}}
	m := NewManager(testConfig(), d.dial)
	rec := &recorder{}
	m.Subscribe(rec.record)

	m.Connect()
	waitForState(t, m, StateDisconnected)
	settle()

	if d.count() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", d.count())
	}

	changes := rec.snapshot()
	last := changes[len(changes)-1]
	if last.New != StateDisconnected {
		t.Errorf("expected terminal disconnected, got %+v", last)
	}
	if last.Err == nil {
		t.Error("expected terminal transition to carry the failure")
	}

	// Re-triggering starts a fresh cycle with a fresh budget.
	d.mu.Lock()
	d.results = []dialResult{{tr: newFakeTransport()}}
	d.mu.Unlock()
	m.Connect()
	waitForState(t, m, StateConnected)
}

// ---------------------------------------------------------------------------
// Test: A fatal failure yields disconnected immediately, at any retry count
// ---------------------------------------------------------------------------

func TestManager_FatalFailureBypassesRetries(t *testing.T) {
	cases := []struct {
		name      string
		results   []dialResult
		wantDials int
	}{
		{
			"fatal on first attempt",
			[]dialResult{{err: &FatalError{Err: errors.New("channel rejected")}}},
			1,
		},
		{
			"fatal after one transient",
			[]dialResult{
				{err: errors.New("timeout")},
				{err: &FatalError{Err: errors.New("channel rejected")}},
			},
			2,
		},
		{
			"fatal after two transients",
			[]dialResult{
				{err: errors.New("timeout")},
				{err: errors.New("timeout")},
				{err: &FatalError{Err: errors.New("channel rejected")}},
			},
			3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDialer{results: tc.results}
			m := NewManager(testConfig(), d.dial)

			m.Connect()
			waitForState(t, m, StateDisconnected)
			settle()

			if d.count() != tc.wantDials {
				t.Errorf("expected %d dials, got %d", tc.wantDials, d.count())
			}

			// Fatal is terminal for the process: re-trigger is ignored.
			m.Connect()
			settle()
			if d.count() != tc.wantDials {
				t.Errorf("expected no dials after fatal, got %d", d.count()-tc.wantDials)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: A dropped connection reconnects
// ---------------------------------------------------------------------------

func TestManager_DropReconnects(t *testing.T) {
	first := newFakeTransport()
	second := newFakeTransport()
	d := &fakeDialer{results: []dialResult{{tr: first}, {tr: second}}}
	m := NewManager(testConfig(), d.dial)
	rec := &recorder{}
	m.Subscribe(rec.record)

	m.Connect()
	waitForState(t, m, StateConnected)

	first.drop()
	waitForDials(t, d, 2)
	waitForState(t, m, StateConnected)

	var sawDrop bool
	for _, sc := range rec.snapshot() {
		if sc.Old == StateConnected && sc.New == StateReconnecting {
			sawDrop = true
			if sc.Err == nil {
				t.Error("expected drop transition to carry the read error")
			}
		}
	}
	if !sawDrop {
		t.Error("expected a connected -> reconnecting transition after the drop")
	}
}

// waitForDials polls until the dialer has been invoked n times.
func waitForDials(t *testing.T, d *fakeDialer, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.count() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d dials, got %d", n, d.count())
}

// ---------------------------------------------------------------------------
// Test: Explicit close does not trigger reconnection
// ---------------------------------------------------------------------------

func TestManager_ExplicitClose(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{results: []dialResult{{tr: tr}}}
	m := NewManager(testConfig(), d.dial)

	m.Connect()
	waitForState(t, m, StateConnected)

	m.Close()
	waitForState(t, m, StateDisconnected)
	settle()

	if d.count() != 1 {
		t.Errorf("expected no reconnect after deliberate close, got %d dials", d.count())
	}
}

// ---------------------------------------------------------------------------
// Test: Send requires a live transport
// ---------------------------------------------------------------------------

func TestManager_SendNotConnected(t *testing.T) {
	d := &fakeDialer{results: []dialResult{{err: errors.New("refused")}}}
	m := NewManager(testConfig(), d.dial)

	if err := m.Send([]byte(`{"type":"typing","isTyping":true}`)); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestManager_SendConnected(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{results: []dialResult{{tr: tr}}}
	m := NewManager(testConfig(), d.dial)

	m.Connect()
	waitForState(t, m, StateConnected)

	payload := []byte(`{"type":"typing","isTyping":true}`)
	if err := m.Send(payload); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.sent) != 1 || string(tr.sent[0]) != string(payload) {
		t.Errorf("unexpected frames on the wire: %q", tr.sent)
	}
}

// ---------------------------------------------------------------------------
// Test: Inbound frames reach the message handler in order
// ---------------------------------------------------------------------------

func TestManager_InboundOrder(t *testing.T) {
	tr := newFakeTransport()
	d := &fakeDialer{results: []dialResult{{tr: tr}}}
	m := NewManager(testConfig(), d.dial)

	var mu sync.Mutex
	var got []string
	m.SetMessageHandler(func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	})

	m.Connect()
	waitForState(t, m, StateConnected)

	for _, s := range []string{"a", "b", "c"} {
		tr.in <- []byte(s)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("expected frames in arrival order, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Test: Every observed transition is an edge of the state machine
// ---------------------------------------------------------------------------

func TestManager_TransitionsFollowStateMachine(t *testing.T) {
	allowed := map[[2]State]bool{
		{StateDisconnected, StateConnecting}:   true, // Connect()
		{StateConnecting, StateConnected}:      true, // success
		{StateConnecting, StateReconnecting}:   true, // transient failure
		{StateConnecting, StateDisconnected}:   true, // fatal failure
		{StateConnected, StateReconnecting}:    true, // drop
		{StateReconnecting, StateConnected}:    true, // retry success
		{StateReconnecting, StateDisconnected}: true, // cap hit
		{StateConnected, StateDisconnected}:    true, // explicit close
	}

	// Exercise a messy sequence: fail, reconnect, drop, recover, close.
	first := newFakeTransport()
	second := newFakeTransport()
	d := &fakeDialer{results: []dialResult{
		{err: errors.New("refused")},
		{tr: first},
		{tr: second},
	}}
	m := NewManager(testConfig(), d.dial)
	rec := &recorder{}
	m.Subscribe(rec.record)

	m.Connect()
	waitForState(t, m, StateConnected)
	first.drop()
	waitForDials(t, d, 3)
	waitForState(t, m, StateConnected)
	m.Close()
	waitForState(t, m, StateDisconnected)

	for _, sc := range rec.snapshot() {
		if !allowed[[2]State{sc.Old, sc.New}] {
			t.Errorf("illegal transition %v -> %v", sc.Old, sc.New)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: The dialer's own attempt budget is enforced independently
// ---------------------------------------------------------------------------

func TestDialer_AttemptBudget(t *testing.T) {
	d := &Dialer{AttemptLimit: 2}
	ctx := context.Background()

	// Dials against a closed port consume budget even though they fail.
	url := "ws://127.0.0.1:1/widget"
	for i := 0; i < 2; i++ {
		if _, err := d.Dial(ctx, url); err == nil {
			t.Fatal("expected dial to fail")
		} else if errors.Is(err, ErrRetryBudgetExhausted) {
			t.Fatalf("budget exhausted too early on attempt %d", i+1)
		}
	}

	if _, err := d.Dial(ctx, url); !errors.Is(err, ErrRetryBudgetExhausted) {
		t.Fatalf("expected ErrRetryBudgetExhausted, got %v", err)
	}

	d.ResetBudget()
	if _, err := d.Dial(ctx, url); errors.Is(err, ErrRetryBudgetExhausted) {
		t.Fatal("expected budget to be restored after reset")
	}
}
