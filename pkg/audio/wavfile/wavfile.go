// Package wavfile provides an [audio.Source] that plays a 16-bit PCM WAV file
// into the pipeline, paced at real time by default. Useful for demos and for
// reproducing a recorded session.
package wavfile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

const defaultFrameDuration = 20 * time.Millisecond

// Option is a functional option for [New].
type Option func(*Source)

// WithFrameDuration sets the length of each emitted frame.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) { s.frameDur = d }
}

// WithTarget converts the file's audio to f before emitting it.
func WithTarget(f audio.Format) Option {
	return func(s *Source) { s.target = &f }
}

// WithLoop restarts playback at the end of the file instead of closing the
// stream.
func WithLoop(on bool) Option {
	return func(s *Source) { s.loop = on }
}

// WithRealtime controls playback pacing (default true).
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// Source replays a WAV file. Create with [New].
type Source struct {
	path     string
	frameDur time.Duration
	target   *audio.Format
	loop     bool
	realtime bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Source for the WAV file at path. The file is read on Start.
func New(path string, opts ...Option) *Source {
	s := &Source{
		path:     path,
		frameDur: defaultFrameDuration,
		realtime: true,
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start reads and decodes the file, then begins playback.
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: read %q: %w", s.path, err)
	}
	pcm, format, err := audio.DecodeWAV(raw)
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", s.path, err)
	}
	if s.target != nil && *s.target != format {
		pcm = audio.ConvertPCM(pcm, format, *s.target)
		format = *s.target
	}
	chunk := format.Bytes(s.frameDur)
	if chunk <= 0 {
		return nil, fmt.Errorf("wavfile: frame duration %v too short for %s", s.frameDur, format)
	}

	out := make(chan audio.AudioFrame, 4)
	go s.play(ctx, pcm, format, chunk, out)
	return out, nil
}

// Close stops playback. Safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Source) play(ctx context.Context, pcm []byte, format audio.Format, chunk int, out chan<- audio.AudioFrame) {
	defer close(out)

	var tick <-chan time.Time
	if s.realtime {
		t := time.NewTicker(s.frameDur)
		defer t.Stop()
		tick = t.C
	}

	var offset time.Duration
	for {
		for pos := 0; pos < len(pcm); pos += chunk {
			data := pcm[pos:min(pos+chunk, len(pcm))]
			frame := audio.AudioFrame{
				Data:       data,
				SampleRate: format.SampleRate,
				Channels:   format.Channels,
				Timestamp:  offset,
			}
			offset += format.Duration(len(data))

			select {
			case out <- frame:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
		}
		if !s.loop || len(pcm) == 0 {
			return
		}
	}
}
