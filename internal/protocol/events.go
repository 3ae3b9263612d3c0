// Package protocol defines the event types exchanged between the support
// widget and the chat server. Every event is a flat JSON object carrying a
// "type" discriminator; payload fields use the camelCase names of the wire
// contract.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Widget -> Server event types.
const (
	TypeRegister      = "register"
	TypeResumeSession = "resume-session"
	TypeSendMessage   = "send-message"
	TypeTyping        = "typing"
)

// Server -> Widget event types.
const (
	TypeRegistrationSuccess = "registration-success"
	TypeRegistrationError   = "registration-error"
	TypeResumeSuccess       = "resume-success"
	TypeResumeError         = "resume-error"
	TypeNoActiveSession     = "no-active-session"
	TypeAgentMessage        = "agent-message"
	TypeMessageSent         = "message-sent"
	TypeMessageError        = "message-error"
	TypeTicketAssigned      = "ticket-assigned"
	TypeAgentTyping         = "agent-typing"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred parsing
// into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Widget -> Server event structs
// ---------------------------------------------------------------------------

// SessionData carries ambient context captured at registration time.
type SessionData struct {
	Timestamp int64  `json:"timestamp"`
	Timezone  string `json:"timezone"`
	WidgetID  string `json:"widgetId,omitempty"`
}

// RegisterEvent is sent by the widget when no valid cached session exists and
// the visitor submits the registration form.
type RegisterEvent struct {
	Type        string      `json:"type"`
	Name        string      `json:"name"`
	Phone       string      `json:"phone"`
	Email       string      `json:"email,omitempty"`
	SessionData SessionData `json:"sessionData"`
}

// ResumeSessionEvent is sent on connect when a valid cached session exists.
// TicketID is omitted when the cached session never had a ticket assigned.
type ResumeSessionEvent struct {
	Type       string `json:"type"`
	CustomerID string `json:"customerId"`
	TicketID   string `json:"ticketId,omitempty"`
}

// MessageMetadata carries per-message ambient context.
type MessageMetadata struct {
	Timestamp int64 `json:"timestamp"`
}

// SendMessageEvent carries one customer message to the server.
type SendMessageEvent struct {
	Type        string          `json:"type"`
	Content     string          `json:"content"`
	MessageType string          `json:"messageType"`
	Metadata    MessageMetadata `json:"metadata"`
}

// TypingEvent signals whether the customer is currently composing a message.
type TypingEvent struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"isTyping"`
}

// ---------------------------------------------------------------------------
// Server -> Widget event structs
// ---------------------------------------------------------------------------

// Identity is the customer identity block returned by registration and
// resumption replies.
type Identity struct {
	CustomerID    string `json:"customerId"`
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail,omitempty"`
	TicketID      string `json:"ticketId,omitempty"`
}

// HistoryMessage is one message of the prior conversation returned by
// resume-success. Sender is "customer", "agent", or "system".
type HistoryMessage struct {
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	SenderName string `json:"senderName,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// RegistrationSuccessEvent confirms a new session. The returned identity is
// persisted wholesale by the widget.
type RegistrationSuccessEvent struct {
	Type string `json:"type"`
	Identity
}

// RegistrationErrorEvent reports a user-correctable registration failure.
type RegistrationErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ResumeSuccessEvent confirms resumption of an existing conversation. History
// replaces the local message log wholesale.
type ResumeSuccessEvent struct {
	Type string `json:"type"`
	Identity
	History []HistoryMessage `json:"history"`
}

// ResumeErrorEvent rejects a resume attempt. The widget treats this as
// session invalidation.
type ResumeErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// NoActiveSessionEvent confirms the cached identity but reports that there is
// no conversation to resume.
type NoActiveSessionEvent struct {
	Type string `json:"type"`
	Identity
}

// AgentMessageEvent is a message authored by a support agent.
type AgentMessageEvent struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	AgentName string `json:"agentName"`
	Timestamp int64  `json:"timestamp"`
}

// MessageSentEvent acknowledges that a specific outbound message reached the
// server.
type MessageSentEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

// MessageErrorEvent reports a send failure. The widget surfaces the message
// but does not retract the optimistic log entry.
type MessageErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TicketAssignedEvent announces the agent now handling the conversation.
type TicketAssignedEvent struct {
	Type            string `json:"type"`
	AgentName       string `json:"agentName"`
	AgentDepartment string `json:"agentDepartment,omitempty"`
}

// AgentTypingEvent relays the agent's typing indicator.
type AgentTypingEvent struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"isTyping"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseServerEvent parses raw transport bytes into a typed server event. It
// returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// widget-originated event types.
func ParseServerEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		evt interface{}
		err error
	)

	switch env.Type {
	case TypeRegistrationSuccess:
		var e RegistrationSuccessEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeRegistrationError:
		var e RegistrationErrorEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeResumeSuccess:
		var e ResumeSuccessEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeResumeError:
		var e ResumeErrorEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeNoActiveSession:
		var e NoActiveSessionEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeAgentMessage:
		var e AgentMessageEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeMessageSent:
		var e MessageSentEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeMessageError:
		var e MessageErrorEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeTicketAssigned:
		var e TicketAssignedEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeAgentTyping:
		var e AgentTypingEvent
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, evt, nil
}

// NewClientEvent creates a JSON-encoded byte slice for a widget-originated
// event. The evtType is injected into the payload under the "type" key so
// callers cannot produce an event whose discriminator disagrees with its
// declared type.
func NewClientEvent(evtType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = evtType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal client event: %w", err)
	}
	return out, nil
}
