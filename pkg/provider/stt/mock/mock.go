// Package mock provides a test double for [stt.Provider].
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// Provider is a mock [stt.Provider]. Texts are returned in order, one per call;
// once exhausted, Text is returned.
type Provider struct {
	mu sync.Mutex

	// Texts are returned one per call before falling back to Text.
	Texts []string

	// Text is returned when Texts is exhausted.
	Text string

	// Err, if non-nil, is returned instead of a transcript.
	Err error

	// TranscribeFunc overrides all of the above when set.
	TranscribeFunc func(ctx context.Context, req stt.Request) (string, error)

	// Calls records every request.
	Calls []stt.Request
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.TranscribeFunc
	var text string
	switch {
	case len(p.Texts) > 0:
		text, p.Texts = p.Texts[0], p.Texts[1:]
	default:
		text = p.Text
	}
	err := p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
