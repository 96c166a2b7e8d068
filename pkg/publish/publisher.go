package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds a single publish including a lazy dial.
const DefaultTimeout = 5 * time.Second

// Option configures a [Publisher].
type Option func(*Publisher)

// WithTimeout sets the per-publish timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithTokenSource mints the access token for a target before each dial.
func WithTokenSource(fn func(t Target) (string, error)) Option {
	return func(p *Publisher) { p.token = fn }
}

// WithObserver is called after every publish attempt, e.g. to record
// metrics.
func WithObserver(fn func(ctx context.Context, lang string, kind Kind, d time.Duration, err error)) Option {
	return func(p *Publisher) { p.observe = fn }
}

// LaneStatus is a snapshot of one lane.
type LaneStatus struct {
	Lang      string `json:"lang"`
	Channel   string `json:"channel"`
	Connected bool   `json:"connected"`
	Sent      uint64 `json:"sent"`
	Failed    uint64 `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// lane serialises one language's deliveries on its own connection.
type lane struct {
	target Target

	mu      sync.Mutex
	conn    Conn
	sent    uint64
	failed  uint64
	lastErr string
}

// Publisher delivers payloads to independent per-language lanes. Each lane
// dials lazily on its first publish, and a failed send closes the lane's
// connection so the next publish redials. It is safe for concurrent use.
type Publisher struct {
	dialer  Dialer
	room    string
	timeout time.Duration
	token   func(Target) (string, error)
	observe func(context.Context, string, Kind, time.Duration, error)

	mu     sync.Mutex
	lanes  map[string]*lane
	closed bool
}

// New creates a Publisher that dials channels of room through d.
func New(d Dialer, room string, opts ...Option) *Publisher {
	p := &Publisher{
		dialer:  d,
		room:    room,
		timeout: DefaultTimeout,
		lanes:   make(map[string]*lane),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Room returns the room name.
func (p *Publisher) Room() string { return p.room }

// Target returns the target description of lang without a token.
func (p *Publisher) Target(lang string) Target {
	return Target{
		Lang:     lang,
		Channel:  ChannelName(p.room, lang),
		Identity: "translator-" + lang,
	}
}

func (p *Publisher) lane(lang string) (*lane, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	l, ok := p.lanes[lang]
	if !ok {
		l = &lane{target: p.Target(lang)}
		p.lanes[lang] = l
	}
	return l, nil
}

// Publish delivers payload on lang's lane. On failure the lane's connection
// is closed and the error returned; the payload is not retried.
func (p *Publisher) Publish(ctx context.Context, lang string, payload Payload) error {
	l, err := p.lane(lang)
	if err != nil {
		return err
	}
	payload.Lang = lang

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	err = p.send(ctx, l, payload)
	if p.observe != nil {
		p.observe(ctx, lang, payload.Kind, time.Since(start), err)
	}
	if err != nil {
		slog.Warn("publish: delivery dropped", "lang", lang, "kind", payload.Kind, "seq", payload.Seq, "err", err)
	}
	return err
}

func (p *Publisher) send(ctx context.Context, l *lane, payload Payload) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		conn, err := p.dial(ctx, l.target)
		if err != nil {
			l.failed++
			l.lastErr = err.Error()
			return err
		}
		l.conn = conn
	}
	if err := l.conn.Send(ctx, payload); err != nil {
		_ = l.conn.Close()
		l.conn = nil
		l.failed++
		l.lastErr = err.Error()
		return fmt.Errorf("publish: send to %s: %w", l.target.Channel, err)
	}
	l.sent++
	return nil
}

func (p *Publisher) dial(ctx context.Context, t Target) (Conn, error) {
	if p.token != nil {
		tok, err := p.token(t)
		if err != nil {
			return nil, fmt.Errorf("publish: token for %s: %w", t.Channel, err)
		}
		t.Token = tok
	}
	conn, err := p.dialer.Dial(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("publish: dial %s: %w", t.Channel, err)
	}
	return conn, nil
}

// Status returns a snapshot of every lane that has published, sorted by
// language.
func (p *Publisher) Status() []LaneStatus {
	p.mu.Lock()
	lanes := make([]*lane, 0, len(p.lanes))
	for _, l := range p.lanes {
		lanes = append(lanes, l)
	}
	p.mu.Unlock()

	out := make([]LaneStatus, 0, len(lanes))
	for _, l := range lanes {
		l.mu.Lock()
		out = append(out, LaneStatus{
			Lang:      l.target.Lang,
			Channel:   l.target.Channel,
			Connected: l.conn != nil,
			Sent:      l.sent,
			Failed:    l.failed,
			LastError: l.lastErr,
		})
		l.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lang < out[j].Lang })
	return out
}

// Close closes every lane. Subsequent publishes return [ErrClosed].
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	lanes := p.lanes
	p.mu.Unlock()

	var errs []error
	for _, l := range lanes {
		l.mu.Lock()
		if l.conn != nil {
			if err := l.conn.Close(); err != nil {
				errs = append(errs, err)
			}
			l.conn = nil
		}
		l.mu.Unlock()
	}
	return errors.Join(errs...)
}
