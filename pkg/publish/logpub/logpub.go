// Package logpub is a publish.Dialer that writes every payload to a
// structured logger. It is the default transport when no output is
// configured and is handy for local runs.
package logpub

import (
	"context"
	"log/slog"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/publish"
)

var _ publish.Dialer = (*Dialer)(nil)

// Dialer logs payloads instead of sending them anywhere.
type Dialer struct {
	log *slog.Logger
}

// New creates a Dialer. A nil logger uses [slog.Default].
func New(log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{log: log}
}

// Dial implements [publish.Dialer].
func (d *Dialer) Dial(_ context.Context, t publish.Target) (publish.Conn, error) {
	return &conn{log: d.log.With("channel", t.Channel, "lang", t.Lang)}, nil
}

type conn struct {
	log *slog.Logger
}

func (c *conn) Send(ctx context.Context, p publish.Payload) error {
	switch p.Kind {
	case publish.KindAudio:
		f := audio.Format{SampleRate: p.SampleRate, Channels: p.Channels}
		c.log.InfoContext(ctx, "publish audio", "seq", p.Seq, "utterance", p.UtteranceID, "duration", f.Duration(len(p.PCM)))
	default:
		c.log.InfoContext(ctx, "publish text", "seq", p.Seq, "utterance", p.UtteranceID, "text", p.Text)
	}
	return nil
}

func (c *conn) Close() error { return nil }
