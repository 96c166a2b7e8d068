package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/resilience"
	provider "github.com/MrWong99/babelcast/pkg/provider/translate"
)

// Defaults for [Chain].
const (
	DefaultTimeout      = 5 * time.Second
	DefaultAttemptDelay = 500 * time.Millisecond

	probeText   = "test"
	probeTarget = "en"
)

// Link is one provider in a [Chain] with its call policy.
type Link struct {
	Provider provider.Provider

	// Timeout bounds a single call. Zero means [DefaultTimeout].
	Timeout time.Duration

	// Limiter, if set, paces calls to this provider across all languages.
	Limiter *rate.Limiter
}

type link struct {
	Link
	breaker *resilience.CircuitBreaker

	// available is written by Probe before the pipeline starts and only
	// read afterwards.
	available bool
}

// ChainOption is a functional option for [NewChain].
type ChainOption func(*Chain)

// WithAttemptDelay sets the pause between two sequential attempts for the
// same language. It never applies across languages.
func WithAttemptDelay(d time.Duration) ChainOption {
	return func(c *Chain) { c.delay = d }
}

// WithCircuitBreakers wraps every provider in its own breaker built from
// cfg. The breaker name is the provider name. Breakers are off unless this
// option is given.
func WithCircuitBreakers(cfg resilience.CircuitBreakerConfig) ChainOption {
	return func(c *Chain) { c.breakerCfg = &cfg }
}

// WithChainMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithChainMetrics(m *observe.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// WithProbe overrides the text and target language used by [Chain.Probe].
func WithProbe(text, target string) ChainOption {
	return func(c *Chain) { c.probeText, c.probeTarget = text, target }
}

// Chain tries its providers in order until one succeeds.
type Chain struct {
	links       []*link
	delay       time.Duration
	breakerCfg  *resilience.CircuitBreakerConfig
	metrics     *observe.Metrics
	probeText   string
	probeTarget string

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewChain builds a chain over links in the given order. An empty chain is
// valid and falls back to the source text for every language.
func NewChain(links []Link, opts ...ChainOption) *Chain {
	c := &Chain{
		delay:       DefaultAttemptDelay,
		probeText:   probeText,
		probeTarget: probeTarget,
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	for _, l := range links {
		if l.Provider == nil {
			continue
		}
		if l.Timeout <= 0 {
			l.Timeout = DefaultTimeout
		}
		entry := &link{Link: l, available: true}
		if c.breakerCfg != nil {
			cfg := *c.breakerCfg
			cfg.Name = l.Provider.Name()
			userHook := cfg.OnStateChange
			m := c.metrics
			cfg.OnStateChange = func(name string, from, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, to.String())
				if userHook != nil {
					userHook(name, from, to)
				}
			}
			entry.breaker = resilience.NewCircuitBreaker(cfg)
		}
		c.links = append(c.links, entry)
	}
	return c
}

// Names returns the provider names in chain order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.links))
	for i, l := range c.links {
		names[i] = l.Provider.Name()
	}
	return names
}

// Available reports the probe result per provider name.
func (c *Chain) Available() map[string]bool {
	out := make(map[string]bool, len(c.links))
	for _, l := range c.links {
		out[l.Provider.Name()] = l.available
	}
	return out
}

// Probe sends a short test translation through every provider and marks the
// ones that fail as unavailable. Providers that do not support the probe
// language stay available. Call it once before the pipeline starts; it must
// not run concurrently with [Chain.Translate].
func (c *Chain) Probe(ctx context.Context) {
	for _, l := range c.links {
		name := l.Provider.Name()
		if !l.Provider.Supports(c.probeTarget) {
			slog.Info("translate: provider skipped by probe", "provider", name, "target", c.probeTarget)
			continue
		}
		_, err := c.call(ctx, l, c.probeText, "", c.probeTarget)
		l.available = err == nil
		if err != nil {
			slog.Warn("translate: provider unavailable", "provider", name, "err", err)
			continue
		}
		slog.Info("translate: provider available", "provider", name)
	}
}

// Translate walks the chain for target and never fails: when no provider
// succeeds the source text comes back flagged [Fallback].
func (c *Chain) Translate(ctx context.Context, text, source, target string) Translation {
	if strings.TrimSpace(text) == "" || sameLanguage(source, target) {
		return Translation{Lang: target, Text: text, Outcome: NotAttempted}
	}

	attempted := false
	for _, l := range c.links {
		if !l.available || !l.Provider.Supports(target) {
			continue
		}
		if attempted {
			if err := c.sleep(ctx, c.delay); err != nil {
				break
			}
		}
		attempted = true

		out, err := c.call(ctx, l, text, source, target)
		if err == nil {
			return Translation{Lang: target, Text: out, Outcome: Translated, Provider: l.Provider.Name()}
		}
		slog.Warn("translate: provider failed, trying next",
			"provider", l.Provider.Name(),
			"target", target,
			"err", err,
		)
		if ctx.Err() != nil {
			break
		}
	}
	if !attempted && ctx.Err() != nil {
		return Translation{Lang: target, Text: text, Outcome: NotAttempted}
	}
	return Translation{Lang: target, Text: text, Outcome: Fallback}
}

// call runs one bounded provider attempt.
func (c *Chain) call(ctx context.Context, l *link, text, source, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	if l.Limiter != nil {
		if err := l.Limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit: %w", err)
		}
	}

	var out string
	fn := func() error {
		var err error
		out, err = l.Provider.Translate(ctx, text, source, target)
		if err == nil && strings.TrimSpace(out) == "" {
			err = provider.ErrEmptyResult
		}
		return err
	}
	var err error
	if l.breaker != nil {
		err = l.breaker.Execute(fn)
	} else {
		err = fn()
	}
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		c.metrics.RecordProviderRequest(ctx, l.Provider.Name(), "translate", err)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func sameLanguage(source, target string) bool {
	return source != "" && strings.EqualFold(source, target)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
