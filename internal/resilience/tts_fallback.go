package resilience

import (
	"context"

	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across generic
// synthesizers. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesizer.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Names returns the backend names in order.
func (f *TTSFallback) Names() []string { return f.group.Names() }

// Synthesize returns the first backend's audio that is not empty.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	speech, _, err := f.SynthesizeNamed(ctx, req)
	return speech, err
}

// SynthesizeNamed is [TTSFallback.Synthesize] that also reports which backend
// answered.
func (f *TTSFallback) SynthesizeNamed(ctx context.Context, req tts.Request) (tts.Speech, string, error) {
	return ExecuteNamed(ctx, f.group, func(p tts.Provider) (tts.Speech, error) {
		s, err := p.Synthesize(ctx, req)
		if err == nil && len(s.PCM) == 0 {
			err = tts.ErrEmptyAudio
		}
		return s, err
	})
}
