// Package relay is a websocket fan-out hub for language channels. The
// translator publishes to /rooms/{channel}/publish and every client
// connected to /rooms/{channel}/listen receives each message verbatim.
//
// Both endpoints require a room token; browsers that cannot set headers on
// a websocket handshake pass it as the "token" query parameter.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/token"
)

const (
	// listenerBuffer is the per-listener backlog. A listener that falls
	// further behind loses messages rather than stalling the channel.
	listenerBuffer = 64

	maxMessageSize = 4 << 20
)

// Verifier validates room tokens. [*token.Issuer] implements it.
type Verifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

var _ Verifier = (*token.Issuer)(nil)

// Option configures a [Hub].
type Option func(*Hub)

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithOriginPatterns allows cross-origin websocket handshakes from the
// given host patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

type listener struct {
	identity string
	ch       chan []byte
}

type room struct {
	listeners map[*listener]struct{}
}

// Hub routes published messages to listeners. It is safe for concurrent use.
type Hub struct {
	verifier Verifier
	metrics  *observe.Metrics
	origins  []string

	mu    sync.Mutex
	rooms map[string]*room
}

// New creates a Hub. A nil verifier disables authentication.
func New(verifier Verifier, opts ...Option) *Hub {
	h := &Hub{verifier: verifier, rooms: make(map[string]*room)}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// Register mounts the relay endpoints on mux:
//
//	GET /rooms/{channel}/publish  translator connection (write only)
//	GET /rooms/{channel}/listen   listener connection (read only)
func (h *Hub) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /rooms/{channel}/publish", h.handlePublish)
	mux.HandleFunc("GET /rooms/{channel}/listen", h.handleListen)
}

// Handler returns the relay endpoints on their own mux.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

// Listeners returns the number of listeners per channel.
func (h *Hub) Listeners() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.rooms))
	for name, r := range h.rooms {
		out[name] = len(r.listeners)
	}
	return out
}

// authorize checks the request token against channel. On failure it writes
// the error response and ok is false.
func (h *Hub) authorize(w http.ResponseWriter, r *http.Request, channel string, publish bool) (identity string, ok bool) {
	if h.verifier == nil {
		return "anonymous", true
	}
	raw := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		raw = strings.TrimPrefix(auth, "Bearer ")
	}
	if raw == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return "", false
	}
	claims, err := h.verifier.Verify(raw)
	if err != nil {
		slog.Debug("relay: token rejected", "channel", channel, "err", err)
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return "", false
	}
	if err := claims.Allow(channel, publish); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return "", false
	}
	return claims.Identity(), true
}

func (h *Hub) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
}

func (h *Hub) handlePublish(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	identity, ok := h.authorize(w, r, channel, true)
	if !ok {
		return
	}
	ws, err := h.accept(w, r)
	if err != nil {
		return
	}
	defer ws.CloseNow()
	ws.SetReadLimit(maxMessageSize)

	log := slog.With("channel", channel, "identity", identity)
	log.Info("relay: publisher connected")
	for {
		_, data, err := ws.Read(r.Context())
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug("relay: publisher read ended", "err", err)
			}
			log.Info("relay: publisher disconnected")
			return
		}
		h.Broadcast(channel, data)
	}
}

// Broadcast delivers data to every listener of channel. Listeners whose
// backlog is full miss the message.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[channel]
	if !ok {
		return
	}
	for l := range rm.listeners {
		select {
		case l.ch <- data:
		default:
			h.metrics.RecordDrop(context.Background(), "relay", "slow_listener")
		}
	}
}

func (h *Hub) join(channel, identity string) *listener {
	l := &listener{identity: identity, ch: make(chan []byte, listenerBuffer)}
	h.mu.Lock()
	rm, ok := h.rooms[channel]
	if !ok {
		rm = &room{listeners: make(map[*listener]struct{})}
		h.rooms[channel] = rm
	}
	rm.listeners[l] = struct{}{}
	h.mu.Unlock()
	h.metrics.RecordListener(context.Background(), channel, 1)
	return l
}

func (h *Hub) leave(channel string, l *listener) {
	h.mu.Lock()
	if rm, ok := h.rooms[channel]; ok {
		delete(rm.listeners, l)
		if len(rm.listeners) == 0 {
			delete(h.rooms, channel)
		}
	}
	h.mu.Unlock()
	h.metrics.RecordListener(context.Background(), channel, -1)
}

func (h *Hub) handleListen(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	identity, ok := h.authorize(w, r, channel, false)
	if !ok {
		return
	}
	ws, err := h.accept(w, r)
	if err != nil {
		return
	}
	defer ws.CloseNow()

	l := h.join(channel, identity)
	defer h.leave(channel, l)

	// Listeners never send; CloseRead handles control frames and cancels
	// ctx when the client goes away.
	ctx := ws.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-l.ch:
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
