package widget

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bloomcart/chat-widget/internal/ws"
)

// Widget placement values.
const (
	PositionBottomRight = "bottom-right"
	PositionBottomLeft  = "bottom-left"
)

// Config is the widget's recognized configuration surface. Theme and
// Position are cosmetic pass-throughs for the UI layer; the connection core
// only validates them.
type Config struct {
	SocketURL  string        // chat server origin, e.g. https://shop.example.com
	Theme      string        // cosmetic, handed to the UI untouched
	Position   string        // bottom-left | bottom-right
	Debug      bool          // verbose logging toggle
	TypingIdle time.Duration // debounce window for the typing stop signal
	Conn       ws.Config     // connection tuning; Endpoint is derived from SocketURL

	// dial overrides the transport dialer. Test hook.
	dial ws.DialFunc
}

// DefaultConfig returns the widget defaults: bottom-right placement and the
// production connection tuning.
func DefaultConfig() Config {
	return Config{
		Position: PositionBottomRight,
		Conn:     ws.DefaultConfig(),
	}
}

// validate normalizes the config and derives the transport endpoint from the
// socket origin.
func (c *Config) validate() error {
	if c.SocketURL == "" {
		return fmt.Errorf("widget: socket URL is required")
	}
	if c.Position == "" {
		c.Position = PositionBottomRight
	}
	if c.Position != PositionBottomLeft && c.Position != PositionBottomRight {
		return fmt.Errorf("widget: invalid position %q", c.Position)
	}
	if c.Conn.Endpoint == "" {
		endpoint, err := widgetEndpoint(c.SocketURL)
		if err != nil {
			return err
		}
		c.Conn.Endpoint = endpoint
	}
	c.Conn.Debug = c.Conn.Debug || c.Debug
	return nil
}

// widgetEndpoint converts the configured origin into the WebSocket URL of the
// fixed widget channel.
func widgetEndpoint(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("widget: invalid socket URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("widget: unsupported socket URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/widget"
	return u.String(), nil
}
