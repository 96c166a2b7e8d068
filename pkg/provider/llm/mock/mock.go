// Package mock provides a test double for the llm.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/babelcast/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
//
// CompleteFunc, when set, takes precedence over Response and Err.
type Provider struct {
	mu sync.Mutex

	Response     *llm.Response
	Err          error
	CompleteFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

	// Calls records every request in order.
	Calls []llm.Request
}

var _ llm.Provider = (*Provider)(nil)

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn, resp, err := p.CompleteFunc, p.Response, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return &llm.Response{}, nil
	}
	out := *resp
	return &out, nil
}

// CallCount returns the number of Complete invocations.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
