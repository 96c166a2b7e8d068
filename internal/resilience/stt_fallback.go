package resilience

import (
	"context"

	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] over an ordered list of recognizers.
// It keeps the pipeline's single-call recognition contract: one Transcribe
// may try several backends, but never in parallel.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional recognizer.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe returns the first successful transcript. An empty transcript is
// a success: silence must not be sent to a second, billed backend.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, req)
	})
}
