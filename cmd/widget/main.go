// Command widget runs the support-chat widget core with a terminal front
// end. It stands in for the storefront page: it initializes the singleton
// widget, drives the registration/resumption protocol, and maps stdin lines
// to message sends and typing signals.
//
// Commands:
//
//	/register Name; Phone[; Email]   submit the registration form
//	/status                          print connection and session state
//	/log                             print the conversation log
//	/quit                            tear the widget down and exit
//
// Any other input is sent as a chat message.
package main

import (
	"bufio"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bloomcart/chat-widget/internal/chat"
	"github.com/bloomcart/chat-widget/internal/metrics"
	"github.com/bloomcart/chat-widget/internal/session"
	"github.com/bloomcart/chat-widget/internal/widget"
	"github.com/bloomcart/chat-widget/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg := widget.DefaultConfig()
	cfg.SocketURL = envDefault("WIDGET_SOCKET_URL", "http://localhost:8080")
	if v := os.Getenv("WIDGET_THEME"); v != "" {
		cfg.Theme = v
	}
	if v := os.Getenv("WIDGET_POSITION"); v != "" {
		cfg.Position = v
	}
	if v := os.Getenv("WIDGET_DEBUG"); v == "1" || v == "true" {
		cfg.Debug = true
	}

	store, closeStore, err := buildStore()
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer closeStore()

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("metrics listening on %s", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	log.Printf("Bloomcart support widget starting")
	log.Printf("  socket_url: %s", cfg.SocketURL)
	log.Printf("  position:   %s", cfg.Position)
	log.Printf("  debug:      %v", cfg.Debug)

	hooks := widget.Hooks{
		OnStateChange: func(sc ws.StateChange) {
			fmt.Printf("* connection: %s -> %s\n", sc.Old, sc.New)
		},
		OnShowRegistration: func() {
			fmt.Println("* no active session. Register with: /register Name; Phone[; Email]")
		},
		OnChatReady: func(s session.Session) {
			fmt.Printf("* chat ready for %s (customer %s)\n", s.CustomerName, s.CustomerID)
		},
		OnMessage: func(m chat.Message) {
			printMessage(m)
		},
		OnHistoryReplaced: func(msgs []chat.Message) {
			fmt.Printf("* restored %d earlier messages:\n", len(msgs))
			for _, m := range msgs {
				printMessage(m)
			}
		},
		OnAgentTyping: func(isTyping bool) {
			if isTyping {
				fmt.Println("* agent is typing...")
			}
		},
		OnRegistrationError: func(msg string) {
			fmt.Printf("! registration failed: %s\n", msg)
		},
		OnNotice: func(msg string) {
			fmt.Printf("! %s\n", msg)
		},
	}

	w, err := widget.Initialize(cfg, store, hooks)
	if err != nil {
		log.Fatalf("failed to initialize widget: %v", err)
	}
	w.Open()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		widget.Cleanup()
		os.Exit(0)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			widget.Cleanup()
			return
		case line == "/status":
			s, confirmed := w.Session()
			fmt.Printf("* state=%s confirmed=%v customer=%q ticket=%q\n",
				w.State(), confirmed, s.CustomerID, s.TicketID)
			if last := w.LastActivity(); !last.IsZero() {
				fmt.Printf("* last activity: %s\n", last.Format("15:04:05"))
			}
		case line == "/log":
			for _, m := range w.Messages() {
				printMessage(m)
			}
		case strings.HasPrefix(line, "/register "):
			if err := register(w, strings.TrimPrefix(line, "/register ")); err != nil {
				fmt.Printf("! %v\n", err)
			}
		default:
			w.Composer(line)
			if _, err := w.Send(line); err != nil {
				fmt.Printf("! %v\n", err)
			}
			w.Composer("")
		}
	}
	widget.Cleanup()
}

// register parses "Name; Phone[; Email]" and submits the form.
func register(w *widget.Widget, args string) error {
	parts := strings.Split(args, ";")
	if len(parts) < 2 {
		return fmt.Errorf("usage: /register Name; Phone[; Email]")
	}
	email := ""
	if len(parts) > 2 {
		email = strings.TrimSpace(parts[2])
	}
	return w.Register(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), email)
}

func printMessage(m chat.Message) {
	name := m.Sender
	if m.SenderName != "" {
		name = m.SenderName
	}
	fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), name, m.Content)
}

// buildStore picks the session backend: Redis when WIDGET_REDIS_ADDR is set,
// otherwise per-field files under the state directory.
func buildStore() (widget.Store, func(), error) {
	if addr := os.Getenv("WIDGET_REDIS_ADDR"); addr != "" {
		key := os.Getenv("WIDGET_ID")
		if key == "" {
			key, _ = os.Hostname()
		}
		if key == "" {
			key = "default"
		}
		rs, err := session.NewRedisStore(addr, key)
		if err != nil {
			return nil, nil, err
		}
		return rs, func() { rs.Close() }, nil
	}

	dir := os.Getenv("WIDGET_STATE_DIR")
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "."
		}
		dir = filepath.Join(base, "bloomcart-widget")
	}
	fs, err := session.NewFileStore(dir)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
