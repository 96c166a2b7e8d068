package translate

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelcast/internal/observe"
)

// FanoutOption is a functional option for [NewFanout].
type FanoutOption func(*Fanout)

// WithFanoutMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithFanoutMetrics(m *observe.Metrics) FanoutOption {
	return func(f *Fanout) { f.metrics = m }
}

// Fanout runs one [Chain] walk per target language.
type Fanout struct {
	chain   *Chain
	langs   []string
	metrics *observe.Metrics
}

// NewFanout creates a Fanout for langs. Duplicate languages are removed.
func NewFanout(chain *Chain, langs []string, opts ...FanoutOption) *Fanout {
	f := &Fanout{chain: chain}
	seen := make(map[string]bool, len(langs))
	for _, l := range langs {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		f.langs = append(f.langs, l)
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// Languages returns the configured target languages in order.
func (f *Fanout) Languages() []string { return append([]string(nil), f.langs...) }

// Chain returns the underlying provider chain.
func (f *Fanout) Chain() *Chain { return f.chain }

// TranslateLang is the task for a single language. It is what the pipeline
// runs per language so one language never waits on another.
func (f *Fanout) TranslateLang(ctx context.Context, res RecognitionResult, lang string) Translation {
	start := time.Now()
	tr := f.chain.Translate(ctx, res.Text, res.Language, lang)
	f.metrics.RecordTranslation(ctx, lang, string(tr.Outcome), tr.Provider, time.Since(start))
	if tr.Outcome == Fallback {
		slog.Warn("translate: using source text", "utterance", res.UtteranceID, "lang", lang)
	}
	return tr
}

// Translate runs every language concurrently and returns the complete set.
// Every configured language has an entry.
func (f *Fanout) Translate(ctx context.Context, res RecognitionResult) TranslationSet {
	results := make([]Translation, len(f.langs))
	var g errgroup.Group
	for i, lang := range f.langs {
		g.Go(func() error {
			results[i] = f.TranslateLang(ctx, res, lang)
			return nil
		})
	}
	_ = g.Wait()

	set := TranslationSet{
		UtteranceID: res.UtteranceID,
		Seq:         res.Seq,
		Source:      res.Text,
		SourceLang:  res.Language,
		Entries:     make(map[string]Translation, len(f.langs)),
	}
	for _, tr := range results {
		set.Entries[tr.Lang] = tr
	}
	return set
}
