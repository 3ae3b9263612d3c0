// Package widget wires the support-chat widget core together: the singleton
// guard, the connection manager, the registration/resumption protocol, the
// message pipeline, and the typing coordinator. The UI binds to the Hooks
// callback surface; everything else stays internal.
package widget

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bloomcart/chat-widget/internal/chat"
	"github.com/bloomcart/chat-widget/internal/protocol"
	"github.com/bloomcart/chat-widget/internal/session"
	"github.com/bloomcart/chat-widget/internal/ws"
)

// Store persists the customer identity between widget lifetimes.
type Store = session.Store

// Hooks is the callback surface the UI layer binds to. All callbacks are
// optional; nil hooks are skipped. Callbacks fire on the transport read
// goroutine (or the caller's goroutine for synchronous operations) and must
// not block.
type Hooks struct {
	// OnStateChange fires on every connection state transition.
	OnStateChange func(ws.StateChange)

	// OnShowRegistration fires when no valid session exists and the
	// registration form should be shown (fresh visitor or invalidated
	// identity).
	OnShowRegistration func()

	// OnChatReady fires when a session is confirmed and the chat surface
	// replaces the form.
	OnChatReady func(session.Session)

	// OnMessage fires for every entry appended to the log: optimistic
	// customer sends, agent messages, and system notices.
	OnMessage func(chat.Message)

	// OnHistoryReplaced fires when a resumed session returns prior
	// history that replaced the local log wholesale.
	OnHistoryReplaced func([]chat.Message)

	// OnAgentTyping shows or hides the agent typing indicator.
	OnAgentTyping func(isTyping bool)

	// OnRegistrationError surfaces a user-correctable registration
	// failure inline near the form.
	OnRegistrationError func(message string)

	// OnNotice surfaces transient, non-blocking notices such as a send
	// failure. The optimistic entry is never retracted.
	OnNotice func(message string)
}

// Widget is the connection/session core of the support chat. One instance
// exists per process, created through Initialize.
type Widget struct {
	cfg        Config
	hooks      Hooks
	store      session.Store
	manager    *ws.Manager
	dispatcher *ws.Dispatcher
	pipeline   *chat.Pipeline
	typing     *chat.TypingCoordinator
	id         string // widget instance ID, sent as ambient registration context

	mu        sync.Mutex
	sess      session.Session
	confirmed bool
}

// newWidget builds and wires a Widget. Called only by Initialize, under the
// guard.
func newWidget(cfg Config, store session.Store, hooks Hooks) (*Widget, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("widget: session store is required")
	}

	w := &Widget{
		cfg:   cfg,
		hooks: hooks,
		store: store,
		id:    uuid.NewString(),
	}

	w.manager = ws.NewManager(cfg.Conn, cfg.dial)
	w.dispatcher = ws.NewDispatcher(cfg.Debug)
	w.manager.SetMessageHandler(w.dispatcher.Dispatch)

	w.pipeline = chat.NewPipeline(chat.NewLog(), w.manager, w.ready)
	w.typing = chat.NewTypingCoordinator(cfg.TypingIdle, w.ready, w.emitTyping)

	w.registerHandlers()
	w.manager.Subscribe(w.handleStateChange)

	return w, nil
}

// registerHandlers builds the inbound event table. Adding a protocol event is
// a row here, not new control flow.
func (w *Widget) registerHandlers() {
	w.dispatcher.Register(protocol.TypeRegistrationSuccess, func(evt interface{}) {
		w.handleRegistrationSuccess(evt.(protocol.RegistrationSuccessEvent))
	})
	w.dispatcher.Register(protocol.TypeRegistrationError, func(evt interface{}) {
		w.handleRegistrationError(evt.(protocol.RegistrationErrorEvent))
	})
	w.dispatcher.Register(protocol.TypeResumeSuccess, func(evt interface{}) {
		w.handleResumeSuccess(evt.(protocol.ResumeSuccessEvent))
	})
	w.dispatcher.Register(protocol.TypeResumeError, func(evt interface{}) {
		w.handleResumeError(evt.(protocol.ResumeErrorEvent))
	})
	w.dispatcher.Register(protocol.TypeNoActiveSession, func(evt interface{}) {
		w.handleNoActiveSession(evt.(protocol.NoActiveSessionEvent))
	})
	w.dispatcher.Register(protocol.TypeAgentMessage, func(evt interface{}) {
		w.handleAgentMessage(evt.(protocol.AgentMessageEvent))
	})
	w.dispatcher.Register(protocol.TypeMessageSent, func(evt interface{}) {
		w.pipeline.HandleDelivered(evt.(protocol.MessageSentEvent))
	})
	w.dispatcher.Register(protocol.TypeMessageError, func(evt interface{}) {
		w.handleMessageError(evt.(protocol.MessageErrorEvent))
	})
	w.dispatcher.Register(protocol.TypeTicketAssigned, func(evt interface{}) {
		w.handleTicketAssigned(evt.(protocol.TicketAssignedEvent))
	})
	w.dispatcher.Register(protocol.TypeAgentTyping, func(evt interface{}) {
		if w.hooks.OnAgentTyping != nil {
			w.hooks.OnAgentTyping(evt.(protocol.AgentTypingEvent).IsTyping)
		}
	})
}

// Open starts (or re-triggers) the connection. Idempotent while a live
// connection or connect cycle exists.
func (w *Widget) Open() {
	w.manager.Connect()
}

// State returns the current connection state.
func (w *Widget) State() ws.State {
	return w.manager.State()
}

// LastActivity returns when the transport last connected or delivered an
// event.
func (w *Widget) LastActivity() time.Time {
	return w.manager.LastActivity()
}

// Session returns the current identity and whether the server has confirmed
// it on this connection.
func (w *Widget) Session() (session.Session, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sess, w.confirmed
}

// Messages returns a snapshot of the conversation log.
func (w *Widget) Messages() []chat.Message {
	return w.pipeline.Log().Snapshot()
}

// Send sends a customer message through the pipeline. Empty content and
// sends without a confirmed session are no-ops returning the pipeline's
// sentinel errors.
func (w *Widget) Send(content string) (chat.Message, error) {
	msg, err := w.pipeline.Send(content)
	if err == nil && w.hooks.OnMessage != nil {
		w.hooks.OnMessage(msg)
	}
	return msg, err
}

// Composer reports the current composer content for typing signaling.
func (w *Widget) Composer(content string) {
	w.typing.InputChanged(content)
}

// Register submits the registration form. Name and phone are required; the
// error return keeps the form interactive on local validation failures, while
// server-side failures arrive through OnRegistrationError.
func (w *Widget) Register(name, phone, email string) error {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" || phone == "" {
		return fmt.Errorf("widget: name and phone are required")
	}

	data, err := protocol.NewClientEvent(protocol.TypeRegister, protocol.RegisterEvent{
		Name:  name,
		Phone: phone,
		Email: strings.TrimSpace(email),
		SessionData: protocol.SessionData{
			Timestamp: time.Now().UnixMilli(),
			Timezone:  time.Now().Location().String(),
			WidgetID:  w.id,
		},
	})
	if err != nil {
		return err
	}
	return w.manager.Send(data)
}

// shutdown closes the transport deliberately. Called by Cleanup.
func (w *Widget) shutdown() {
	w.typing.Cancel()
	w.manager.Close()
}

// ready reports whether sends and typing signals may go out: a connected
// transport and a server-confirmed session.
func (w *Widget) ready() bool {
	if w.manager.State() != ws.StateConnected {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.confirmed
}

// ---------------------------------------------------------------------------
// Registration protocol
// ---------------------------------------------------------------------------

// handleStateChange runs the registration protocol once per successful
// connected transition and drops session confirmation whenever the
// connection is lost.
func (w *Widget) handleStateChange(sc ws.StateChange) {
	switch {
	case sc.New == ws.StateConnected:
		w.startSessionHandshake()
	case sc.Old == ws.StateConnected:
		w.typing.Cancel()
		w.mu.Lock()
		w.confirmed = false
		w.mu.Unlock()
	}

	if w.hooks.OnStateChange != nil {
		w.hooks.OnStateChange(sc)
	}
}

// startSessionHandshake decides between register and resume. With a valid
// cached identity a resume-session request goes out immediately; otherwise
// the registration form is requested. At most one register/resume attempt is
// outstanding at a time, which the one-transition-per-connect guarantee of
// the state machine provides.
func (w *Widget) startSessionHandshake() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	s, ok, err := w.store.Load(ctx)
	cancel()
	if err != nil {
		log.Printf("widget: session load failed, treating as absent: %v", err)
		ok = false
	}

	if !ok {
		if w.hooks.OnShowRegistration != nil {
			w.hooks.OnShowRegistration()
		}
		return
	}

	w.mu.Lock()
	w.sess = s
	w.mu.Unlock()

	data, err := protocol.NewClientEvent(protocol.TypeResumeSession, protocol.ResumeSessionEvent{
		CustomerID: s.CustomerID,
		TicketID:   s.TicketID,
	})
	if err != nil {
		log.Printf("widget: failed to build resume request: %v", err)
		return
	}
	if err := w.manager.Send(data); err != nil {
		log.Printf("widget: resume request failed: %v", err)
	}
}

// confirmSession persists the identity wholesale and switches to the chat
// surface.
func (w *Widget) confirmSession(id protocol.Identity) session.Session {
	s := session.Session{
		CustomerID:    id.CustomerID,
		CustomerName:  id.CustomerName,
		CustomerPhone: id.CustomerPhone,
		CustomerEmail: id.CustomerEmail,
		TicketID:      id.TicketID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := w.store.Save(ctx, session.FromSession(s)); err != nil {
		log.Printf("widget: failed to persist session: %v", err)
	}
	cancel()

	w.mu.Lock()
	w.sess = s
	w.confirmed = true
	w.mu.Unlock()

	return s
}

func (w *Widget) handleRegistrationSuccess(evt protocol.RegistrationSuccessEvent) {
	s := w.confirmSession(evt.Identity)
	if w.hooks.OnChatReady != nil {
		w.hooks.OnChatReady(s)
	}
}

func (w *Widget) handleRegistrationError(evt protocol.RegistrationErrorEvent) {
	// Not fatal: the form stays interactive.
	if w.hooks.OnRegistrationError != nil {
		w.hooks.OnRegistrationError(evt.Message)
	}
}

func (w *Widget) handleResumeSuccess(evt protocol.ResumeSuccessEvent) {
	s := w.confirmSession(evt.Identity)
	w.pipeline.ReplaceHistory(evt.History)
	if w.hooks.OnChatReady != nil {
		w.hooks.OnChatReady(s)
	}
	if w.hooks.OnHistoryReplaced != nil {
		w.hooks.OnHistoryReplaced(w.pipeline.Log().Snapshot())
	}
}

// handleResumeError treats a rejected resume as identity invalidation: the
// cached identity is discarded, not retried.
func (w *Widget) handleResumeError(evt protocol.ResumeErrorEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := w.store.Clear(ctx); err != nil {
		log.Printf("widget: failed to clear invalidated session: %v", err)
	}
	cancel()

	w.mu.Lock()
	w.sess = session.Session{}
	w.confirmed = false
	w.mu.Unlock()

	if w.hooks.OnShowRegistration != nil {
		w.hooks.OnShowRegistration()
	}
}

// handleNoActiveSession confirms the cached identity with nothing to resume:
// the chat surface opens empty with a system notice.
func (w *Widget) handleNoActiveSession(evt protocol.NoActiveSessionEvent) {
	s := w.confirmSession(evt.Identity)
	if w.hooks.OnChatReady != nil {
		w.hooks.OnChatReady(s)
	}
	notice := w.pipeline.AppendSystemNotice("No previous conversation found. How can we help you today?")
	if w.hooks.OnMessage != nil {
		w.hooks.OnMessage(notice)
	}
}

func (w *Widget) handleAgentMessage(evt protocol.AgentMessageEvent) {
	msg := w.pipeline.HandleAgentMessage(evt)
	if w.hooks.OnMessage != nil {
		w.hooks.OnMessage(msg)
	}
}

// handleMessageError surfaces a send failure as a transient notice. The
// optimistically displayed message stays in the log.
func (w *Widget) handleMessageError(evt protocol.MessageErrorEvent) {
	if w.hooks.OnNotice != nil {
		w.hooks.OnNotice("Message could not be delivered: " + evt.Message)
	}
}

func (w *Widget) handleTicketAssigned(evt protocol.TicketAssignedEvent) {
	text := "You are now chatting with " + evt.AgentName
	if evt.AgentDepartment != "" {
		text += " (" + evt.AgentDepartment + ")"
	}
	notice := w.pipeline.AppendSystemNotice(text)
	if w.hooks.OnMessage != nil {
		w.hooks.OnMessage(notice)
	}
}

// emitTyping sends a typing signal. Failures are logged only: typing state
// is ephemeral and the next signal supersedes it.
func (w *Widget) emitTyping(isTyping bool) {
	data, err := protocol.NewClientEvent(protocol.TypeTyping, protocol.TypingEvent{
		IsTyping: isTyping,
	})
	if err != nil {
		log.Printf("widget: failed to build typing event: %v", err)
		return
	}
	if err := w.manager.Send(data); err != nil && w.cfg.Debug {
		log.Printf("widget: typing signal dropped: %v", err)
	}
}
