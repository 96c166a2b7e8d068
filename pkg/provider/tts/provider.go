// Package tts defines the speech synthesis contracts.
//
// A [Provider] is a generic synthesizer that speaks text with a named voice.
// A [Cloner] speaks with a voice described by an opaque embedding produced
// earlier by an [Encoder] from a short reference sample. Backends may
// implement any combination of the three.
//
// Implementations must be safe for concurrent use: every target language
// synthesizes in parallel.
package tts

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// ErrEmptyAudio is returned when a backend answers without audio.
var ErrEmptyAudio = errors.New("tts: backend returned no audio")

// Request is a single synthesis request.
type Request struct {
	Text string

	// Lang is the target-language code, e.g. "ko".
	Lang string

	// Voice is the backend-specific voice name. Empty selects the backend's
	// default for Lang.
	Voice string
}

// Speech is synthesized 16-bit PCM audio.
type Speech struct {
	PCM    []byte
	Format audio.Format
}

// Duration returns the playback length.
func (s Speech) Duration() time.Duration { return s.Format.Duration(len(s.PCM)) }

// Embedding is the output of an [Encoder].
type Embedding struct {
	// Data is the opaque blob handed back to [Cloner.SynthesizeClone].
	Data []byte

	// Vector is an optional fixed-size speaker vector used for similarity
	// lookups. Nil when the backend does not expose one.
	Vector []float32
}

// Provider synthesizes text with a stock voice.
type Provider interface {
	Synthesize(ctx context.Context, req Request) (Speech, error)
}

// Cloner synthesizes text in a cloned voice.
type Cloner interface {
	SynthesizeClone(ctx context.Context, text, lang string, embedding []byte) (Speech, error)
}

// Encoder turns a WAV-encoded reference sample into an [Embedding]. This is
// expensive and must not run on the per-utterance path.
type Encoder interface {
	Encode(ctx context.Context, wav []byte) (Embedding, error)
}

// WithVoices wraps p so requests without a voice get voices[req.Lang].
// Backends use different voice catalogues, so the table travels with the
// backend rather than with the request.
func WithVoices(p Provider, voices map[string]string) Provider {
	if len(voices) == 0 {
		return p
	}
	return voiced{Provider: p, voices: voices}
}

type voiced struct {
	Provider
	voices map[string]string
}

func (v voiced) Synthesize(ctx context.Context, req Request) (Speech, error) {
	if req.Voice == "" {
		req.Voice = v.voices[req.Lang]
	}
	return v.Provider.Synthesize(ctx, req)
}
