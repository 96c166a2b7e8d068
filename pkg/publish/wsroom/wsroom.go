// Package wsroom publishes to the Babelcast websocket relay. Each language
// lane holds one websocket to /rooms/{channel}/publish and writes one JSON
// encoded [publish.Payload] per message.
package wsroom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelcast/pkg/publish"
)

var _ publish.Dialer = (*Dialer)(nil)

// Dialer connects lanes to a relay.
type Dialer struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a [Dialer].
type Option func(*Dialer)

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.httpClient = c }
}

// New creates a Dialer for the relay at serverURL. http(s) URLs are
// rewritten to ws(s).
func New(serverURL string, opts ...Option) (*Dialer, error) {
	if serverURL == "" {
		return nil, errors.New("wsroom: server URL must not be empty")
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("wsroom: parse server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("wsroom: unsupported scheme %q", u.Scheme)
	}
	d := &Dialer{baseURL: strings.TrimRight(u.String(), "/")}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// PublishURL returns the relay endpoint of channel.
func (d *Dialer) PublishURL(channel string) string {
	return d.baseURL + "/rooms/" + url.PathEscape(channel) + "/publish"
}

// Dial implements [publish.Dialer]. The target token is sent as a bearer
// token.
func (d *Dialer) Dial(ctx context.Context, t publish.Target) (publish.Conn, error) {
	opts := &websocket.DialOptions{HTTPClient: d.httpClient}
	if t.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + t.Token}}
	}
	ws, _, err := websocket.Dial(ctx, d.PublishURL(t.Channel), opts)
	if err != nil {
		return nil, fmt.Errorf("wsroom: dial %s: %w", t.Channel, err)
	}
	ws.SetReadLimit(1 << 20)
	// The relay never sends to publishers; CloseRead answers control frames.
	ctx = ws.CloseRead(context.Background())
	return &conn{ws: ws, done: ctx}, nil
}

type conn struct {
	ws   *websocket.Conn
	done context.Context

	closeOnce sync.Once
}

func (c *conn) Send(ctx context.Context, p publish.Payload) error {
	if err := c.done.Err(); err != nil {
		return fmt.Errorf("wsroom: connection closed by relay: %w", err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("wsroom: encode payload: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("wsroom: write: %w", err)
	}
	return nil
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}
