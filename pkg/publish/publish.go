// Package publish delivers translated text and synthesized speech to one
// output channel per target language.
//
// The two primary abstractions are:
//
//   - [Dialer]: opens a [Conn] to the channel described by a [Target].
//   - [Conn]: an open channel that accepts [Payload] values until closed.
//
// Transport packages (publish/wsroom, publish/redispub, publish/discord,
// publish/logpub) implement [Dialer]. The [Publisher] owns one lane per
// language on top of them.
//
// This package lives under pkg/ because external code is expected to
// implement [Dialer] for further transports.
package publish

import (
	"context"
	"errors"
)

// ErrClosed is returned by [Publisher.Publish] after [Publisher.Close].
var ErrClosed = errors.New("publish: publisher closed")

// Kind distinguishes text from audio payloads.
type Kind string

const (
	KindText  Kind = "text"
	KindAudio Kind = "audio"
)

// Payload is one delivery to a language channel.
type Payload struct {
	Kind        Kind   `json:"kind"`
	Lang        string `json:"lang"`
	UtteranceID string `json:"utterance_id"`
	Seq         uint64 `json:"seq"`
	Text        string `json:"text,omitempty"`

	// PCM is 16-bit little-endian audio. Only set for KindAudio.
	PCM        []byte `json:"pcm,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

// Target describes one language's output channel.
type Target struct {
	Lang string

	// Channel is the transport-level channel name, "{room}-{lang}".
	Channel string

	// Identity is the publisher's identity on the channel,
	// "translator-{lang}".
	Identity string

	// Token is the access credential for Channel. Empty for transports that
	// need none.
	Token string
}

// ChannelName returns the channel of lang in room.
func ChannelName(room, lang string) string { return room + "-" + lang }

// Conn is an open output channel.
//
// Implementations need not be safe for concurrent use; the [Publisher]
// serialises calls per lane.
type Conn interface {
	// Send delivers p. An error means the connection is no longer usable
	// and will be closed by the caller.
	Send(ctx context.Context, p Payload) error

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Dialer opens connections to language channels.
//
// Implementations must be safe for concurrent use.
type Dialer interface {
	Dial(ctx context.Context, t Target) (Conn, error)
}

// DialerFunc adapts a function to [Dialer].
type DialerFunc func(ctx context.Context, t Target) (Conn, error)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context, t Target) (Conn, error) { return f(ctx, t) }
