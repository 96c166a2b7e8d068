// Package audio defines the PCM frame type that flows from capture into the
// translation pipeline, the [Source] contract implemented by capture adapters,
// and helpers for converting, measuring and containerising 16-bit PCM.
//
// Concrete sources live in sub-packages (audio/synthetic, audio/udp,
// audio/wavfile, audio/discord). The package lives under pkg/ because
// third-party capture adapters are expected to implement [Source].
package audio

import (
	"context"
	"time"
)

// AudioFrame is one block of captured audio. Frames are immutable once they
// have been pushed into a [FrameQueue].
type AudioFrame struct {
	// Data is 16-bit signed little-endian PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (16000 for recognition, 48000 for Discord Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp is the capture offset relative to stream start.
	Timestamp time.Duration

	// Seq is stamped by [FrameQueue.Push] and is strictly increasing for the
	// lifetime of the queue. Zero means "not yet queued".
	Seq uint64
}

// Format returns the frame's sample format.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Duration is the playback length of the frame derived from its sample count.
func (f AudioFrame) Duration() time.Duration {
	return f.Format().Duration(len(f.Data))
}

// Source produces a continuous stream of capture frames.
//
// Start begins capturing and returns the frame channel. The channel is closed
// when ctx is cancelled, when [Source.Close] is called, or when the source runs
// out of audio (e.g. a WAV file reaching its end). Start must only be called
// once per Source.
type Source interface {
	Start(ctx context.Context) (<-chan AudioFrame, error)
	Close() error
}
