// Package llmtranslate adapts any [llm.Provider] into a translation provider.
//
// It is slower than the dedicated translation APIs but handles colloquial
// speech and mixed-language utterances well, which makes it a useful tail
// for the provider chain.
package llmtranslate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/babelcast/pkg/provider/llm"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

const systemPrompt = "You are a simultaneous interpreter for a live broadcast. " +
	"Translate the user's message from %s to %s. " +
	"Reply with the translation only, without quotes, notes or transliteration."

var _ translate.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithName overrides the provider name reported in results. Defaults to "llm".
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLanguages restricts the targets the provider claims to support.
func WithLanguages(codes ...string) Option {
	return func(p *Provider) { p.langs = translate.NewLanguages(codes...) }
}

// WithTemperature sets the sampling temperature. Defaults to 0.2.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = t }
}

// WithMaxTokens caps the reply length. Defaults to 512.
func WithMaxTokens(n int) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// Provider implements [translate.Provider] on top of a chat model.
type Provider struct {
	llm         llm.Provider
	name        string
	langs       translate.Languages
	temperature float64
	maxTokens   int
}

// New wraps model.
func New(model llm.Provider, opts ...Option) (*Provider, error) {
	if model == nil {
		return nil, errors.New("llmtranslate: llm provider must not be nil")
	}
	p := &Provider{llm: model, name: "llm", temperature: 0.2, maxTokens: 512}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements [translate.Provider].
func (p *Provider) Name() string { return p.name }

// Supports implements [translate.Provider].
func (p *Provider) Supports(target string) bool { return p.langs.Supports(target) }

// Translate implements [translate.Provider].
func (p *Provider) Translate(ctx context.Context, text, source, target string) (string, error) {
	if !p.Supports(target) {
		return "", translate.ErrUnsupported
	}
	src := "the detected language"
	if source != "" {
		src = translate.DisplayName(source)
	}
	resp, err := p.llm.Complete(ctx, llm.Request{
		System:      fmt.Sprintf(systemPrompt, src, translate.DisplayName(target)),
		Messages:    []llm.Message{{Role: "user", Content: text}},
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llmtranslate: %w", err)
	}
	out := cleanReply(resp.Content)
	if out == "" {
		return "", fmt.Errorf("llmtranslate: %w", translate.ErrEmptyResult)
	}
	return out, nil
}

// cleanReply strips whitespace and a single pair of wrapping quotes, which
// chat models add despite the instruction.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"「", "」"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}
