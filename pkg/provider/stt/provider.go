// Package stt defines the recognizer contract used by the pipeline to turn one
// utterance of speech into source-language text.
//
// Recognition is batch-oriented: the pipeline hands over a complete utterance
// and waits for its transcript. An empty transcript means "no speech detected"
// and is not an error. Implementations must be safe for concurrent use even
// though the pipeline keeps at most one call in flight.
package stt

import (
	"context"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// Request is one utterance to transcribe.
type Request struct {
	// PCM is 16-bit signed little-endian audio in Format.
	PCM    []byte
	Format audio.Format

	// Language is the BCP-47 source language hint (e.g. "zh"). Empty lets the
	// provider auto-detect, if supported.
	Language string
}

// Provider is the abstraction over any speech recognition backend.
type Provider interface {
	// Transcribe returns the text spoken in req. It must honour ctx
	// cancellation and deadlines.
	Transcribe(ctx context.Context, req Request) (string, error)
}
