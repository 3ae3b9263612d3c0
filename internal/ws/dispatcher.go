package ws

import (
	"log"

	"github.com/bloomcart/chat-widget/internal/protocol"
)

// EventHandler handles one decoded server event. The evt parameter is the
// concrete struct returned by protocol.ParseServerEvent (e.g.
// protocol.AgentMessageEvent, protocol.ResumeSuccessEvent).
type EventHandler func(evt interface{})

// Dispatcher routes inbound server events to registered handlers based on the
// event type, so adding or removing a protocol event is a table change rather
// than new control flow. Payloads are validated at this boundary; malformed
// or unknown events are logged and dropped, never handed to protocol logic.
type Dispatcher struct {
	handlers map[string]EventHandler
	debug    bool
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher(debug bool) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]EventHandler),
		debug:    debug,
	}
}

// Register associates an EventHandler with an event type. Registering a
// second handler for the same type replaces the first. All registration
// happens during widget wiring, before the transport delivers events.
func (d *Dispatcher) Register(evtType string, handler EventHandler) {
	d.handlers[evtType] = handler
}

// Dispatch is the Manager's message handler. It parses the raw bytes into a
// typed event and routes it to the registered handler. It runs on the read
// goroutine, so handlers observe events in arrival order.
func (d *Dispatcher) Dispatch(data []byte) {
	evtType, evt, err := protocol.ParseServerEvent(data)
	if err != nil {
		log.Printf("ws: dropping inbound event: %v", err)
		return
	}

	handler, ok := d.handlers[evtType]
	if !ok {
		if d.debug {
			log.Printf("ws: no handler for event type=%q", evtType)
		}
		return
	}

	if d.debug {
		log.Printf("ws: dispatching event type=%q", evtType)
	}
	handler(evt)
}
