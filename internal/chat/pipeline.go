package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bloomcart/chat-widget/internal/protocol"
)

const (
	// MaxContentBytes bounds a single message payload.
	MaxContentBytes = 4096

	// MaxContentChars bounds the character count of a single message.
	MaxContentChars = 2000
)

var (
	// ErrEmptyMessage is returned for content that is empty after trimming.
	ErrEmptyMessage = errors.New("chat: message is empty")

	// ErrNotReady is returned when there is no connected transport or no
	// confirmed session.
	ErrNotReady = errors.New("chat: not connected or no confirmed session")
)

// ValidateContent checks message content against size limits.
func ValidateContent(content string) error {
	if len(content) > MaxContentBytes {
		return fmt.Errorf("chat: message exceeds %d byte limit", MaxContentBytes)
	}
	if utf8.RuneCountInString(content) > MaxContentChars {
		return fmt.Errorf("chat: message exceeds %d character limit", MaxContentChars)
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("chat: message contains invalid UTF-8")
	}
	return nil
}

// Sender writes an encoded event frame to the server.
type Sender interface {
	Send(data []byte) error
}

// Pipeline coordinates the message log with the transport: customer sends go
// into the log optimistically before the server replies, inbound agent
// messages append in arrival order, and delivery acknowledgements update
// bookkeeping without gating visibility. Sends are not queued or serialized;
// each call is an independent optimistic entry.
type Pipeline struct {
	log    *Log
	sender Sender
	ready  func() bool // connected transport AND confirmed session
}

// NewPipeline creates a Pipeline over the given log. ready gates every send.
func NewPipeline(log *Log, sender Sender, ready func() bool) *Pipeline {
	return &Pipeline{log: log, sender: sender, ready: ready}
}

// Send appends content to the log as a customer message and emits it to the
// server. Content that trims to nothing is a no-op, as is any send without a
// connected transport and confirmed session. The optimistic entry is never
// retracted, even if the server later reports a send failure.
func (p *Pipeline) Send(content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyMessage
	}
	if err := ValidateContent(content); err != nil {
		return Message{}, err
	}
	if !p.ready() {
		return Message{}, ErrNotReady
	}

	msg := Message{
		ID:        uuid.NewString(),
		Sender:    SenderCustomer,
		Content:   content,
		Timestamp: time.Now(),
	}
	p.log.Append(msg)

	data, err := protocol.NewClientEvent(protocol.TypeSendMessage, protocol.SendMessageEvent{
		Content:     content,
		MessageType: "text",
		Metadata: protocol.MessageMetadata{
			Timestamp: msg.Timestamp.UnixMilli(),
		},
	})
	if err != nil {
		return msg, err
	}
	if err := p.sender.Send(data); err != nil {
		// The entry stays in the log; the failure is surfaced separately.
		return msg, fmt.Errorf("chat: send failed: %w", err)
	}
	return msg, nil
}

// HandleAgentMessage appends an inbound agent message in arrival order. No
// reordering or deduplication is performed.
func (p *Pipeline) HandleAgentMessage(evt protocol.AgentMessageEvent) Message {
	msg := Message{
		Sender:     SenderAgent,
		Content:    evt.Content,
		SenderName: evt.AgentName,
		Timestamp:  time.UnixMilli(evt.Timestamp),
		Sent:       true,
	}
	p.log.Append(msg)
	return msg
}

// HandleDelivered records a delivery acknowledgement. Acks carry no local
// correlation, so they mark pending entries in FIFO order.
func (p *Pipeline) HandleDelivered(evt protocol.MessageSentEvent) {
	p.log.MarkDelivered()
}

// AppendSystemNotice adds a system entry to the log (ticket assignment,
// empty-conversation notice).
func (p *Pipeline) AppendSystemNotice(content string) Message {
	msg := Message{
		Sender:    SenderSystem,
		Content:   content,
		Timestamp: time.Now(),
		Sent:      true,
	}
	p.log.Append(msg)
	return msg
}

// ReplaceHistory swaps the log for the history returned by a resumed session.
func (p *Pipeline) ReplaceHistory(history []protocol.HistoryMessage) {
	msgs := make([]Message, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, Message{
			Sender:     h.Sender,
			Content:    h.Content,
			SenderName: h.SenderName,
			Timestamp:  time.UnixMilli(h.Timestamp),
			Sent:       true,
		})
	}
	p.log.Replace(msgs)
}

// Log exposes the underlying conversation log.
func (p *Pipeline) Log() *Log {
	return p.log
}
