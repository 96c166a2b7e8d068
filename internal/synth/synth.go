// Package synth turns translated text into speech for every target language.
//
// For each language the [Fanout] prefers the active speaker's cloned voice.
// When no ready profile exists or clone synthesis fails it falls back to the
// generic synthesizer group with the language's default voice. When that
// fails too the result carries no audio and the text is still delivered.
package synth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/translate"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
	"github.com/MrWong99/babelcast/pkg/voice"
)

// DefaultTimeout bounds one synthesis attempt.
const DefaultTimeout = 30 * time.Second

// Source tells where a [Speech]'s audio came from.
type Source string

const (
	SourceClone    Source = "clone"
	SourceGeneric  Source = "generic"
	SourceTextOnly Source = "text_only"
)

// Speech is the synthesis result for one language.
type Speech struct {
	Lang       string
	Text       string
	PCM        []byte
	SampleRate int
	Channels   int
	Source     Source

	// Provider names the generic backend that answered, or the speaker ID
	// for cloned audio.
	Provider string
}

// HasAudio reports whether s carries audio.
func (s Speech) HasAudio() bool { return s.Source != SourceTextOnly && len(s.PCM) > 0 }

// VoiceStore resolves the active speaker profile of a language.
// [*voice.Manager] implements it.
type VoiceStore interface {
	ActiveProfile(lang string) (voice.Profile, bool)
}

var _ VoiceStore = (*voice.Manager)(nil)

// namedProvider is implemented by [resilience.TTSFallback].
type namedProvider interface {
	SynthesizeNamed(ctx context.Context, req tts.Request) (tts.Speech, string, error)
}

// Option configures a [Fanout].
type Option func(*Fanout)

// WithTimeout bounds each clone and generic attempt separately.
func WithTimeout(d time.Duration) Option {
	return func(f *Fanout) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithDefaultVoices sets the generic voice per language.
func WithDefaultVoices(voices map[string]string) Option {
	return func(f *Fanout) {
		for lang, v := range voices {
			f.voices[lang] = v
		}
	}
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Fanout) { f.metrics = m }
}

// Fanout synthesizes speech per language. It is safe for concurrent use.
type Fanout struct {
	store   VoiceStore
	cloner  tts.Cloner
	generic tts.Provider
	timeout time.Duration
	voices  map[string]string
	metrics *observe.Metrics
}

// New creates a Fanout. store and cloner may be nil, in which case only the
// generic group is used. generic may be nil for text-only output.
func New(store VoiceStore, cloner tts.Cloner, generic tts.Provider, opts ...Option) *Fanout {
	f := &Fanout{
		store:   store,
		cloner:  cloner,
		generic: generic,
		timeout: DefaultTimeout,
		voices:  make(map[string]string),
	}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// SynthesizeLang produces speech for text in lang. It never fails; a
// text-only result is returned when no audio could be produced.
func (f *Fanout) SynthesizeLang(ctx context.Context, lang, text string) Speech {
	start := time.Now()
	out := f.synthesize(ctx, lang, text)
	f.metrics.RecordSynthesis(ctx, lang, string(out.Source), time.Since(start))
	return out
}

func (f *Fanout) synthesize(ctx context.Context, lang, text string) Speech {
	out := Speech{Lang: lang, Text: text, Source: SourceTextOnly}
	if text == "" {
		return out
	}
	log := observe.Logger(ctx).With("lang", lang)

	if s, speaker, ok := f.clone(ctx, log, lang, text); ok {
		return fill(out, s, SourceClone, speaker)
	}
	if f.generic == nil || ctx.Err() != nil {
		return out
	}

	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req := tts.Request{Text: text, Lang: lang, Voice: f.voices[lang]}

	var (
		s    tts.Speech
		name string
		err  error
	)
	if np, ok := f.generic.(namedProvider); ok {
		s, name, err = np.SynthesizeNamed(tctx, req)
	} else {
		s, err = f.generic.Synthesize(tctx, req)
	}
	if err == nil && len(s.PCM) == 0 {
		err = tts.ErrEmptyAudio
	}
	if err != nil {
		log.Warn("synth: generic synthesis failed, delivering text only", "err", err)
		return out
	}
	return fill(out, s, SourceGeneric, name)
}

// clone tries the active speaker's voice. ok is false when the language has
// no ready profile or cloning failed.
func (f *Fanout) clone(ctx context.Context, log *slog.Logger, lang, text string) (tts.Speech, string, bool) {
	if f.store == nil || f.cloner == nil {
		return tts.Speech{}, "", false
	}
	p, ok := f.store.ActiveProfile(lang)
	if !ok {
		return tts.Speech{}, "", false
	}
	if !p.Ready() {
		log.Debug("synth: active voice not ready", "speaker", p.SpeakerID, "status", p.Status)
		return tts.Speech{}, "", false
	}

	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	s, err := f.cloner.SynthesizeClone(tctx, text, lang, p.Embedding)
	f.metrics.RecordProviderRequest(ctx, "clone", "tts", err)
	if err == nil && len(s.PCM) == 0 {
		err = tts.ErrEmptyAudio
	}
	if err != nil {
		log.Warn("synth: clone synthesis failed, falling back to generic voice", "speaker", p.SpeakerID, "err", err)
		return tts.Speech{}, "", false
	}
	return s, p.SpeakerID, true
}

func fill(out Speech, s tts.Speech, src Source, provider string) Speech {
	out.PCM = s.PCM
	out.SampleRate = s.Format.SampleRate
	out.Channels = s.Format.Channels
	out.Source = src
	out.Provider = provider
	return out
}

// Synthesize produces speech for every entry of set concurrently.
func (f *Fanout) Synthesize(ctx context.Context, set translate.TranslationSet) map[string]Speech {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]Speech, len(set.Entries))
	)
	for lang, tr := range set.Entries {
		wg.Go(func() {
			s := f.SynthesizeLang(ctx, lang, tr.Text)
			mu.Lock()
			out[lang] = s
			mu.Unlock()
		})
	}
	wg.Wait()
	return out
}
