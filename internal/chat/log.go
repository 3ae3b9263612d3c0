// Package chat owns the in-memory message log for one widget lifetime and
// the pipelines feeding it: optimistic outbound sends, inbound agent
// messages, delivery acknowledgements, and the typing signal coordinator.
package chat

import (
	"sync"
	"time"
)

// Sender values for log entries.
const (
	SenderCustomer = "customer"
	SenderAgent    = "agent"
	SenderSystem   = "system"
)

// Message is one entry of the conversation log. Customer entries appear
// optimistically before the server acknowledges them; Sent flips when the
// delivery acknowledgement arrives and is bookkeeping only.
type Message struct {
	ID         string // local ID, set for customer-authored entries
	Sender     string // customer | agent | system
	Content    string
	SenderName string
	Timestamp  time.Time
	Sent       bool
}

// Log is the append-only conversation log. It is replaced wholesale when a
// resumed session returns prior history, and otherwise only grows.
type Log struct {
	mu   sync.RWMutex
	msgs []Message
}

// NewLog creates an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a message at the end of the log.
func (l *Log) Append(m Message) {
	l.mu.Lock()
	l.msgs = append(l.msgs, m)
	l.mu.Unlock()
}

// Replace swaps the entire log for the server-ordered history of a resumed
// conversation.
func (l *Log) Replace(msgs []Message) {
	l.mu.Lock()
	l.msgs = make([]Message, len(msgs))
	copy(l.msgs, msgs)
	l.mu.Unlock()
}

// MarkDelivered flips Sent on the oldest unacknowledged customer entry.
// Returns false when no entry was waiting for an acknowledgement.
func (l *Log) MarkDelivered() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.msgs {
		if l.msgs[i].Sender == SenderCustomer && !l.msgs[i].Sent {
			l.msgs[i].Sent = true
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the log safe to iterate without holding the
// lock.
func (l *Log) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}
