// Package mock provides a test double implementing tts.Provider, tts.Cloner
// and tts.Encoder.
//
// Example:
//
//	p := &mock.Provider{Speech: tts.Speech{PCM: pcm, Format: format}}
//	speech, err := p.Synthesize(ctx, tts.Request{Text: "hi", Lang: "en"})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

// CloneCall records a SynthesizeClone invocation.
type CloneCall struct {
	Text      string
	Lang      string
	Embedding []byte
}

// Provider is a configurable test double.
type Provider struct {
	mu sync.Mutex

	// Speech is returned by Synthesize and SynthesizeClone.
	Speech tts.Speech

	// SynthesizeErr and CloneErr fail the respective calls.
	SynthesizeErr error
	CloneErr      error

	// SynthesizeFunc, when set, replaces the canned Synthesize response.
	SynthesizeFunc func(ctx context.Context, req tts.Request) (tts.Speech, error)

	// EncodeResult and EncodeErr are returned by Encode.
	EncodeResult tts.Embedding
	EncodeErr    error

	SynthesizeCalls []tts.Request
	CloneCalls      []CloneCall
	EncodeCalls     [][]byte
}

var (
	_ tts.Provider = (*Provider)(nil)
	_ tts.Cloner   = (*Provider)(nil)
	_ tts.Encoder  = (*Provider)(nil)
)

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, req)
	fn, speech, err := p.SynthesizeFunc, p.Speech, p.SynthesizeErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return speech, err
}

// SynthesizeClone implements tts.Cloner.
func (p *Provider) SynthesizeClone(_ context.Context, text, lang string, embedding []byte) (tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloneCalls = append(p.CloneCalls, CloneCall{Text: text, Lang: lang, Embedding: embedding})
	return p.Speech, p.CloneErr
}

// Encode implements tts.Encoder.
func (p *Provider) Encode(_ context.Context, wav []byte) (tts.Embedding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EncodeCalls = append(p.EncodeCalls, wav)
	return p.EncodeResult, p.EncodeErr
}

// SynthesizeCount returns the number of Synthesize calls.
func (p *Provider) SynthesizeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeCalls)
}

// CloneCount returns the number of SynthesizeClone calls.
func (p *Provider) CloneCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CloneCalls)
}

// EncodeCount returns the number of Encode calls.
func (p *Provider) EncodeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EncodeCalls)
}
