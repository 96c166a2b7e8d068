// Package mock provides a test double for the translate.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

// Call records a single Translate invocation.
type Call struct {
	Text   string
	Source string
	Target string
}

// Provider is a configurable translate.Provider.
//
// Translations maps target language to reply; missing targets get
// "[target] text". TranslateFunc, when set, takes precedence.
type Provider struct {
	mu sync.Mutex

	ProviderName  string
	Languages     translate.Languages
	Translations  map[string]string
	Err           error
	TranslateFunc func(ctx context.Context, text, source, target string) (string, error)

	Calls []Call
}

var _ translate.Provider = (*Provider)(nil)

// Name implements translate.Provider. Defaults to "mock".
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Supports implements translate.Provider.
func (p *Provider) Supports(target string) bool { return p.Languages.Supports(target) }

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, text, source, target string) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Text: text, Source: source, Target: target})
	fn, err := p.TranslateFunc, p.Err
	out, ok := p.Translations[target]
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, source, target)
	}
	if err != nil {
		return "", err
	}
	if !ok {
		out = "[" + target + "] " + text
	}
	return out, nil
}

// CallCount returns the number of Translate invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
