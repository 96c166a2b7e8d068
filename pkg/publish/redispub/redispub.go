// Package redispub publishes language channels over Redis pub/sub. Every
// payload is JSON encoded and published on "{prefix}{channel}". With
// [WithHistory] the payload is also appended to a capped stream so late
// listeners can catch up.
package redispub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/babelcast/pkg/publish"
)

// DefaultPrefix namespaces channel names.
const DefaultPrefix = "babelcast:"

var _ publish.Dialer = (*Dialer)(nil)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Option configures a [Dialer].
type Option func(*Dialer)

// WithPrefix replaces [DefaultPrefix].
func WithPrefix(prefix string) Option {
	return func(d *Dialer) { d.prefix = prefix }
}

// WithHistory keeps the last maxLen payloads per channel in the stream
// "{prefix}{channel}:history".
func WithHistory(maxLen int64) Option {
	return func(d *Dialer) { d.historyLen = maxLen }
}

// Dialer shares one Redis client between all lanes.
type Dialer struct {
	client     *redis.Client
	prefix     string
	historyLen int64
}

// New creates a Dialer and checks connectivity.
func New(ctx context.Context, cfg Config, opts ...Option) (*Dialer, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redispub: addr must not be empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redispub: ping: %w", err)
	}
	d := &Dialer{client: client, prefix: DefaultPrefix}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Key returns the pub/sub channel of a language channel.
func (d *Dialer) Key(channel string) string { return d.prefix + channel }

// Dial implements [publish.Dialer]. The Redis client pools connections, so
// dialing only binds the lane to its key.
func (d *Dialer) Dial(_ context.Context, t publish.Target) (publish.Conn, error) {
	return &conn{d: d, key: d.Key(t.Channel)}, nil
}

// Ping checks the Redis connection.
func (d *Dialer) Ping(ctx context.Context) error { return d.client.Ping(ctx).Err() }

// Close closes the Redis client.
func (d *Dialer) Close() error { return d.client.Close() }

type conn struct {
	d   *Dialer
	key string
}

func (c *conn) Send(ctx context.Context, p publish.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("redispub: encode payload: %w", err)
	}
	if c.d.historyLen <= 0 {
		if err := c.d.client.Publish(ctx, c.key, data).Err(); err != nil {
			return fmt.Errorf("redispub: publish %s: %w", c.key, err)
		}
		return nil
	}

	pipe := c.d.client.TxPipeline()
	pipe.Publish(ctx, c.key, data)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: c.key + ":history",
		MaxLen: c.d.historyLen,
		Approx: true,
		Values: map[string]any{"kind": string(p.Kind), "seq": p.Seq, "payload": data},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redispub: publish %s: %w", c.key, err)
	}
	return nil
}

func (c *conn) Close() error { return nil }
