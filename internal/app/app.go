// Package app wires all Babelcast subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the pipeline and the HTTP API, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithVoiceRepository,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MrWong99/babelcast/internal/config"
	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/pipeline"
	"github.com/MrWong99/babelcast/internal/relay"
	"github.com/MrWong99/babelcast/internal/resilience"
	"github.com/MrWong99/babelcast/internal/segment"
	"github.com/MrWong99/babelcast/internal/synth"
	"github.com/MrWong99/babelcast/internal/token"
	"github.com/MrWong99/babelcast/internal/translate"
	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/audio/synthetic"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	provider "github.com/MrWong99/babelcast/pkg/provider/translate"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
	"github.com/MrWong99/babelcast/pkg/publish"
	"github.com/MrWong99/babelcast/pkg/publish/logpub"
	"github.com/MrWong99/babelcast/pkg/voice"
	"github.com/MrWong99/babelcast/pkg/voice/postgres"
)

// Translator is a configured translation provider with its chain entry.
type Translator struct {
	Entry    config.TranslatorEntry
	Provider provider.Provider
}

// Recognizer is a named speech recognition backend.
type Recognizer struct {
	Name     string
	Provider stt.Provider
}

// Synthesizer is a named generic TTS backend.
type Synthesizer struct {
	Name     string
	Provider tts.Provider
}

// Providers holds the instantiated providers. Nil means not configured.
// Populated by main.go via the config registry.
type Providers struct {
	Audio      audio.Source
	Recognizer stt.Provider

	// RecognizerFallbacks are tried in order when Recognizer fails.
	RecognizerFallbacks []Recognizer

	Translators  []Translator
	Synthesizers []Synthesizer
	Cloner       config.CloneBackend
	Dialer       publish.Dialer
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	repo      voice.Repository
	voices    *voice.Manager
	chain     *translate.Chain
	fanout    *translate.Fanout
	synth     *synth.Fanout
	issuer    *token.Issuer
	publisher *publish.Publisher
	relay     *relay.Hub
	pipeline  *pipeline.Pipeline
	fallback  audio.Source
	uploads   *rate.Limiter
	server    *http.Server
	started   time.Time

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithVoiceRepository injects a profile repository instead of creating one
// from config.
func WithVoiceRepository(r voice.Repository) Option {
	return func(a *App) { a.repo = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithFallbackSource replaces the synthetic fallback capture source.
func WithFallbackSource(src audio.Source) Option {
	return func(a *App) { a.fallback = src }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Recognizer == nil {
		return nil, errors.New("app: a recognizer is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Voice profiles ────────────────────────────────────────────────
	if err := a.initVoices(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init voices: %w", err)
	}

	// ── 2. Translation chain ─────────────────────────────────────────────
	a.initTranslation(ctx)

	// ── 3. Synthesis ─────────────────────────────────────────────────────
	a.initSynthesis()

	// ── 4. Tokens, publisher, relay ──────────────────────────────────────
	if err := a.initPublishing(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init publishing: %w", err)
	}

	// ── 5. Pipeline ──────────────────────────────────────────────────────
	a.initPipeline()

	// ── 6. HTTP API ──────────────────────────────────────────────────────
	uploadRPS := cfg.Voices.UploadRPS
	if uploadRPS <= 0 {
		uploadRPS = 1
	}
	a.uploads = rate.NewLimiter(rate.Limit(uploadRPS), 3)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("app: initialised",
		"source_language", cfg.Pipeline.SourceLanguage,
		"targets", a.fanout.Languages(),
		"translators", a.chain.Names(),
		"room", cfg.Publish.Room,
	)
	return a, nil
}

func (a *App) initVoices(ctx context.Context) error {
	if a.repo == nil {
		switch a.cfg.Voices.Repository {
		case config.RepositoryPostgres:
			store, err := postgres.NewStore(ctx, a.cfg.Voices.PostgresDSN, a.cfg.Voices.VectorDimensions)
			if err != nil {
				return err
			}
			a.repo = store
			a.closers = append(a.closers, func() error { store.Close(); return nil })
		default:
			a.repo = voice.NewMemoryRepository()
		}
	}

	var encoder tts.Encoder
	if a.providers.Cloner != nil {
		encoder = a.providers.Cloner
	}
	a.voices = voice.NewManager(a.repo, encoder)
	// Encodings are cancelled before the repository closes.
	a.closers = append([]func() error{a.voices.Close}, a.closers...)

	if err := a.voices.Load(ctx); err != nil {
		return err
	}
	for lang, speaker := range a.cfg.Voices.Active {
		if err := a.voices.SetActiveSpeaker(ctx, lang, speaker); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) initTranslation(ctx context.Context) {
	links := make([]translate.Link, 0, len(a.providers.Translators))
	for _, t := range a.providers.Translators {
		l := translate.Link{Provider: t.Provider, Timeout: t.Entry.Timeout}
		if t.Entry.RateLimitRPS > 0 {
			l.Limiter = rate.NewLimiter(rate.Limit(t.Entry.RateLimitRPS), 1)
		}
		links = append(links, l)
	}

	tc := a.cfg.Translation
	opts := []translate.ChainOption{translate.WithChainMetrics(a.metrics)}
	if tc.AttemptDelay > 0 {
		opts = append(opts, translate.WithAttemptDelay(tc.AttemptDelay))
	}
	if tc.CircuitBreaker.Enabled {
		opts = append(opts, translate.WithCircuitBreakers(resilience.CircuitBreakerConfig{
			MaxFailures:  tc.CircuitBreaker.MaxFailures,
			ResetTimeout: tc.CircuitBreaker.ResetTimeout,
		}))
	}
	a.chain = translate.NewChain(links, opts...)
	if tc.Probe {
		a.chain.Probe(ctx)
	}
	a.fanout = translate.NewFanout(a.chain, a.cfg.Pipeline.TargetLanguages, translate.WithFanoutMetrics(a.metrics))
}

func (a *App) initSynthesis() {
	var generic tts.Provider
	if syn := a.providers.Synthesizers; len(syn) > 0 {
		fb := resilience.NewTTSFallback(syn[0].Provider, syn[0].Name, resilience.FallbackConfig{})
		for _, s := range syn[1:] {
			fb.AddFallback(s.Name, s.Provider)
		}
		generic = fb
	}
	var cloner tts.Cloner
	if a.providers.Cloner != nil {
		cloner = a.providers.Cloner
	}
	a.synth = synth.New(a.voices, cloner, generic,
		synth.WithTimeout(a.cfg.Synthesis.Timeout),
		synth.WithDefaultVoices(maps.Clone(a.cfg.Synthesis.DefaultVoices)),
		synth.WithMetrics(a.metrics),
	)
}

func (a *App) initPublishing() error {
	if a.cfg.Auth.APIKey != "" {
		iss, err := token.NewIssuer(a.cfg.Auth.APIKey, a.cfg.Auth.APISecret, token.WithTTL(a.cfg.Auth.TokenTTL))
		if err != nil {
			return err
		}
		a.issuer = iss
	}

	dialer := a.providers.Dialer
	if dialer == nil {
		dialer = logpub.New(slog.Default())
	}
	opts := []publish.Option{
		publish.WithObserver(func(ctx context.Context, lang string, kind publish.Kind, d time.Duration, err error) {
			a.metrics.RecordPublish(ctx, lang, string(kind), d, err)
		}),
	}
	if a.cfg.Publish.Timeout > 0 {
		opts = append(opts, publish.WithTimeout(a.cfg.Publish.Timeout))
	}
	if a.issuer != nil {
		opts = append(opts, publish.WithTokenSource(func(t publish.Target) (string, error) {
			return a.issuer.Publisher(t.Identity, t.Channel)
		}))
	}
	a.publisher = publish.New(dialer, a.cfg.Publish.Room, opts...)
	a.closers = append(a.closers, a.publisher.Close)

	// A nil *token.Issuer must not become a non-nil Verifier.
	var verifier relay.Verifier
	if a.issuer != nil {
		verifier = a.issuer
	}
	a.relay = relay.New(verifier, relay.WithMetrics(a.metrics))
	return nil
}

func (a *App) initPipeline() {
	pc := a.cfg.Pipeline
	source := a.providers.Audio
	if a.fallback == nil {
		a.fallback = synthetic.New(synthetic.WithRealtime(true))
	}
	if source == nil {
		slog.Warn("app: no audio source configured, using the simulated source")
		source, a.fallback = a.fallback, nil
	}
	opts := []pipeline.Option{pipeline.WithMetrics(a.metrics)}
	if a.fallback != nil {
		opts = append(opts, pipeline.WithFallbackSource(a.fallback))
	}
	recognizer := a.providers.Recognizer
	if fallbacks := a.providers.RecognizerFallbacks; len(fallbacks) > 0 {
		fb := resilience.NewSTTFallback(recognizer, a.cfg.Recognizer.Name, resilience.FallbackConfig{})
		for _, r := range fallbacks {
			fb.AddFallback(r.Name, r.Provider)
		}
		recognizer = fb
	}
	a.pipeline = pipeline.New(pipeline.Config{
		SourceLanguage:     pc.SourceLanguage,
		FrameQueue:         pc.FrameQueue,
		UtteranceQueue:     pc.UtteranceQueue,
		MaxInFlight:        pc.MaxInFlight,
		CapturePushTimeout: pc.CapturePushTimeout,
		RecognizerTimeout:  a.cfg.Recognizer.Timeout,
		ShutdownGrace:      pc.ShutdownGrace,
		Segmenter: segment.Config{
			MinLen:           a.cfg.Segmenter.MinLen,
			MaxLen:           a.cfg.Segmenter.MaxLen,
			IdleGap:          a.cfg.Segmenter.IdleGap,
			SilenceThreshold: a.cfg.Segmenter.SilenceThreshold,
		},
	}, source, recognizer, a.fanout, a.synth, a.publisher, opts...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the pipeline and the HTTP API and blocks until ctx is cancelled
// or one of them fails. The pipeline ending on its own (a finite source) does
// not stop the API.
func (a *App) Run(ctx context.Context) error {
	a.started = time.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.pipeline.Run(gctx); err != nil {
			return fmt.Errorf("app: pipeline: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("app: http api listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable part of a config change.
func (a *App) ApplyConfig(ctx context.Context, d config.ConfigDiff) {
	for lang, speaker := range d.SpeakerChanges {
		if err := a.voices.SetActiveSpeaker(ctx, lang, speaker); err != nil {
			slog.Warn("app: apply active speaker", "lang", lang, "speaker", speaker, "err", err)
		}
	}
	if d.RestartRequired {
		slog.Warn("app: config changed outside the hot-reloadable fields; restart to apply")
	}
}

// Pipeline returns the running pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Voices returns the voice profile manager.
func (a *App) Voices() *voice.Manager { return a.voices }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases what New managed to open before failing.
func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}
