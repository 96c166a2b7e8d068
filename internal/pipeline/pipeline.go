// Package pipeline wires the translation stages together:
//
//	Source → FrameQueue → Segmenter → UtteranceQueue → Recognizer
//	       → per language: Translate → Synthesize → (order gate) → Publish
//
// Capture, segmentation and recognition each run in one goroutine under a
// shared errgroup. Recognition is strictly sequential. Each recognized
// utterance becomes a job whose languages proceed independently; a
// per-language order gate keeps every language's output in utterance order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/babelcast/internal/observe"
	"github.com/MrWong99/babelcast/internal/segment"
	"github.com/MrWong99/babelcast/internal/synth"
	"github.com/MrWong99/babelcast/internal/translate"
	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	"github.com/MrWong99/babelcast/pkg/publish"
)

// Defaults for [Config].
const (
	DefaultFrameQueue         = 256
	DefaultUtteranceQueue     = 8
	DefaultMaxInFlight        = 4
	DefaultCapturePushTimeout = 50 * time.Millisecond
	DefaultRecognizerTimeout  = 30 * time.Second
	DefaultShutdownGrace      = 5 * time.Second
)

// Config holds the pipeline sizing and timing.
type Config struct {
	// SourceLanguage is passed to the recognizer and the translators.
	SourceLanguage string

	FrameQueue         int
	UtteranceQueue     int
	MaxInFlight        int
	CapturePushTimeout time.Duration
	RecognizerTimeout  time.Duration
	ShutdownGrace      time.Duration

	Segmenter segment.Config
}

func (c Config) withDefaults() Config {
	if c.FrameQueue <= 0 {
		c.FrameQueue = DefaultFrameQueue
	}
	if c.UtteranceQueue <= 0 {
		c.UtteranceQueue = DefaultUtteranceQueue
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = DefaultMaxInFlight
	}
	if c.CapturePushTimeout < 0 {
		c.CapturePushTimeout = 0
	} else if c.CapturePushTimeout == 0 {
		c.CapturePushTimeout = DefaultCapturePushTimeout
	}
	if c.RecognizerTimeout <= 0 {
		c.RecognizerTimeout = DefaultRecognizerTimeout
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// Translator produces one language's translation. [*translate.Fanout]
// implements it.
type Translator interface {
	Languages() []string
	TranslateLang(ctx context.Context, res translate.RecognitionResult, lang string) translate.Translation
}

// Synthesizer produces one language's speech. [*synth.Fanout] implements it.
type Synthesizer interface {
	SynthesizeLang(ctx context.Context, lang, text string) synth.Speech
}

// Publisher delivers payloads per language. [*publish.Publisher]
// implements it.
type Publisher interface {
	Publish(ctx context.Context, lang string, p publish.Payload) error
}

var (
	_ Translator  = (*translate.Fanout)(nil)
	_ Synthesizer = (*synth.Fanout)(nil)
	_ Publisher   = (*publish.Publisher)(nil)
)

// Result is the outcome of one utterance after every language finished.
type Result struct {
	Recognition  translate.RecognitionResult
	Translations translate.TranslationSet
	Sources      map[string]synth.Source
	Latency      time.Duration
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithFallbackSource is started when the configured source fails to start.
func WithFallbackSource(src audio.Source) Option {
	return func(p *Pipeline) { p.fallback = src }
}

// WithResultHook is called once per utterance after all languages were
// published. It must not block.
func WithResultHook(fn func(Result)) Option {
	return func(p *Pipeline) { p.onResult = fn }
}

// WithMetrics replaces [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSegmenterOptions passes options to the segmenter, e.g. a clock.
func WithSegmenterOptions(opts ...segment.Option) Option {
	return func(p *Pipeline) { p.segOpts = append(p.segOpts, opts...) }
}

// Stats are cumulative pipeline counters.
type Stats struct {
	Running            bool   `json:"running"`
	FramesDropped      uint64 `json:"frames_dropped"`
	SegmentsForwarded  uint64 `json:"segments_forwarded"`
	SegmentsSilent     uint64 `json:"segments_silent"`
	UtterancesDropped  uint64 `json:"utterances_dropped"`
	RecognitionEmpty   uint64 `json:"recognition_empty"`
	Recognized         uint64 `json:"recognized"`
	InFlight           int64  `json:"in_flight"`
	Completed          uint64 `json:"completed"`
	PublishFailures    uint64 `json:"publish_failures"`
	UsingFallbackAudio bool   `json:"using_fallback_audio"`
}

type counters struct {
	running, fallbackAudio                       atomic.Bool
	framesDropped, forwarded, silent, uttDropped atomic.Uint64
	empty, recognized, completed, publishFailed  atomic.Uint64
	inFlight                                     atomic.Int64
}

// Pipeline runs the stages. Create it with [New] and call [Pipeline.Run]
// once.
type Pipeline struct {
	cfg        Config
	source     audio.Source
	fallback   audio.Source
	recognizer stt.Provider
	translator Translator
	synth      Synthesizer
	publisher  Publisher
	onResult   func(Result)
	metrics    *observe.Metrics
	segOpts    []segment.Option

	gates gates
	stats counters
	jobs  atomic.Uint64
}

// New creates a Pipeline.
func New(cfg Config, source audio.Source, recognizer stt.Provider, translator Translator, synthesizer Synthesizer, publisher Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg.withDefaults(),
		source:     source,
		recognizer: recognizer,
		translator: translator,
		synth:      synthesizer,
		publisher:  publisher,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	s := &p.stats
	return Stats{
		Running:            s.running.Load(),
		FramesDropped:      s.framesDropped.Load(),
		SegmentsForwarded:  s.forwarded.Load(),
		SegmentsSilent:     s.silent.Load(),
		UtterancesDropped:  s.uttDropped.Load(),
		RecognitionEmpty:   s.empty.Load(),
		Recognized:         s.recognized.Load(),
		InFlight:           s.inFlight.Load(),
		Completed:          s.completed.Load(),
		PublishFailures:    s.publishFailed.Load(),
		UsingFallbackAudio: s.fallbackAudio.Load(),
	}
}

// Running reports whether Run is active.
func (p *Pipeline) Running() bool { return p.stats.running.Load() }

// Run processes audio until the source ends or ctx is cancelled. After ctx is
// cancelled in-flight jobs get [Config.ShutdownGrace] to finish before their
// context is cancelled too. Only a source that cannot be started is an
// error.
func (p *Pipeline) Run(ctx context.Context) error {
	frames, src, err := p.startSource(ctx)
	if err != nil {
		return err
	}
	defer src.Close()
	p.stats.running.Store(true)
	defer p.stats.running.Store(false)

	fq := audio.NewFrameQueue(p.cfg.FrameQueue, p.cfg.CapturePushTimeout, audio.WithDropHook(func(audio.AudioFrame) {
		p.stats.framesDropped.Add(1)
		p.metrics.RecordDrop(ctx, "capture", "queue_full")
	}))
	uq := NewUtteranceQueue(p.cfg.UtteranceQueue)

	// Jobs outlive ctx by the shutdown grace.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	var jobs errgroup.Group
	jobs.SetLimit(p.cfg.MaxInFlight)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer fq.Close()
		for {
			select {
			case <-gctx.Done():
				return nil
			case f, ok := <-frames:
				if !ok {
					slog.Info("pipeline: audio source ended")
					return nil
				}
				fq.Push(gctx, f)
			}
		}
	})
	g.Go(func() error {
		defer uq.Close()
		return p.segment(gctx, fq, uq)
	})
	g.Go(func() error {
		return p.recognize(gctx, uq, func(j job) {
			// Blocks while MaxInFlight jobs run. The grace watchdog below
			// releases it after shutdown by cancelling jobCtx.
			jobs.Go(func() error {
				p.stats.inFlight.Add(1)
				p.metrics.InFlightUtterances.Add(jobCtx, 1)
				defer func() {
					p.stats.inFlight.Add(-1)
					p.metrics.InFlightUtterances.Add(context.WithoutCancel(jobCtx), -1)
				}()
				p.process(jobCtx, j)
				return nil
			})
		})
	})

	// The grace period starts when ctx is cancelled, not when the stages have
	// returned: the recognizer may itself be waiting for a job slot.
	jobsDone := make(chan struct{})
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		select {
		case <-jobsDone:
			return
		case <-ctx.Done():
		}
		grace := time.NewTimer(p.cfg.ShutdownGrace)
		defer grace.Stop()
		select {
		case <-jobsDone:
		case <-grace.C:
			slog.Warn("pipeline: shutdown grace expired, cancelling in-flight utterances", "in_flight", p.stats.inFlight.Load())
			cancelJobs()
		}
	}()

	stageErr := g.Wait()
	_ = jobs.Wait()
	close(jobsDone)
	<-watchdogDone
	return stageErr
}

// startSource starts the configured source or the fallback and returns the
// frames together with the source that produced them.
func (p *Pipeline) startSource(ctx context.Context) (<-chan audio.AudioFrame, audio.Source, error) {
	frames, err := p.source.Start(ctx)
	if err == nil {
		return frames, p.source, nil
	}
	if p.fallback == nil {
		return nil, nil, fmt.Errorf("pipeline: start audio source: %w", err)
	}
	slog.Warn("pipeline: audio source failed, using fallback source", "err", err)
	frames, ferr := p.fallback.Start(ctx)
	if ferr != nil {
		return nil, nil, fmt.Errorf("pipeline: start audio source: %w", errors.Join(err, ferr))
	}
	p.stats.fallbackAudio.Store(true)
	return frames, p.fallback, nil
}

// job is one recognized utterance.
type job struct {
	n       uint64
	result  translate.RecognitionResult
	emitted time.Time
}

func (p *Pipeline) segment(ctx context.Context, fq *audio.FrameQueue, uq *UtteranceQueue) error {
	seg := segment.New(p.cfg.Segmenter, append([]segment.Option{
		segment.WithResultHook(func(o segment.Outcome, _ time.Duration) {
			switch o {
			case segment.Emitted:
				p.stats.forwarded.Add(1)
			case segment.Silent:
				p.stats.silent.Add(1)
			}
			p.metrics.RecordSegment(ctx, o.String())
		}),
	}, p.segOpts...)...)

	err := seg.Run(ctx, fq.Frames(), func(u segment.Utterance) {
		if old, ok := uq.Push(u); ok {
			p.stats.uttDropped.Add(1)
			p.metrics.RecordDrop(ctx, "recognition", "queue_full")
			slog.Warn("pipeline: recognizer behind, dropped oldest utterance", "seq", old.Seq, "duration", old.Duration())
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// recognize is the single recognizer consumer. Every non-empty transcript
// becomes a job handed to spawn in utterance order.
func (p *Pipeline) recognize(ctx context.Context, uq *UtteranceQueue, spawn func(job)) error {
	for {
		q, err := uq.Pop(ctx)
		if err != nil {
			return nil
		}
		u := q.Utterance

		text, err := p.transcribe(ctx, u)
		if err != nil || text == "" {
			p.stats.empty.Add(1)
			if err != nil && ctx.Err() == nil {
				slog.Warn("pipeline: recognition failed, utterance dropped", "seq", u.Seq, "err", err)
			} else {
				slog.Debug("pipeline: no speech detected", "seq", u.Seq)
			}
			continue
		}
		p.stats.recognized.Add(1)
		slog.Info("pipeline: recognized", "seq", u.Seq, "text", text)

		spawn(job{
			n:       p.jobs.Add(1),
			emitted: q.Enqueued,
			result: translate.RecognitionResult{
				UtteranceID: u.ID,
				Seq:         u.Seq,
				Text:        text,
				Language:    p.cfg.SourceLanguage,
			},
		})
	}
}

func (p *Pipeline) transcribe(ctx context.Context, u segment.Utterance) (string, error) {
	ctx, span := observe.StartStage(ctx, "recognize", "")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RecognizerTimeout)
	defer cancel()

	start := time.Now()
	text, err := p.recognizer.Transcribe(ctx, stt.Request{
		PCM:      u.PCM(),
		Format:   u.Format(),
		Language: p.cfg.SourceLanguage,
	})
	p.metrics.RecognitionDuration.Record(ctx, time.Since(start).Seconds())
	p.metrics.RecordProviderRequest(ctx, "recognizer", "stt", err)
	return text, err
}

// process runs every language of j concurrently and reports the result.
func (p *Pipeline) process(ctx context.Context, j job) {
	ctx, span := observe.StartUtterance(ctx, j.result.UtteranceID, j.result.Seq)
	defer span.End()

	langs := p.translator.Languages()
	set := translate.TranslationSet{
		UtteranceID: j.result.UtteranceID,
		Seq:         j.result.Seq,
		Source:      j.result.Text,
		SourceLang:  j.result.Language,
		Entries:     make(map[string]translate.Translation, len(langs)),
	}
	sources := make(map[string]synth.Source, len(langs))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, lang := range langs {
		wg.Go(func() {
			tr, src := p.runLang(ctx, j, lang)
			mu.Lock()
			set.Entries[lang] = tr
			sources[lang] = src
			mu.Unlock()
		})
	}
	wg.Wait()
	p.stats.completed.Add(1)

	if p.onResult != nil {
		p.onResult(Result{
			Recognition:  j.result,
			Translations: set,
			Sources:      sources,
			Latency:      time.Since(j.emitted),
		})
	}
}

// runLang is one language task: translate, synthesize, then publish in order.
func (p *Pipeline) runLang(ctx context.Context, j job, lang string) (translate.Translation, synth.Source) {
	gate := p.gates.get(lang)
	defer gate.done(j.n)

	tctx, tspan := observe.StartStage(ctx, "translate", lang)
	tr := p.translator.TranslateLang(tctx, j.result, lang)
	tspan.End()
	sctx, sspan := observe.StartStage(ctx, "synthesize", lang)
	speech := p.synth.SynthesizeLang(sctx, lang, tr.Text)
	sspan.End()

	if err := gate.wait(ctx, j.n); err != nil {
		observe.Logger(ctx).Warn("pipeline: utterance abandoned before publishing", "lang", lang, "seq", j.result.Seq, "err", err)
		return tr, speech.Source
	}
	ctx, span := observe.StartStage(ctx, "publish", lang)
	defer span.End()

	base := publish.Payload{UtteranceID: j.result.UtteranceID, Seq: j.result.Seq}
	text := base
	text.Kind, text.Text = publish.KindText, tr.Text
	if err := p.publisher.Publish(ctx, lang, text); err != nil {
		p.stats.publishFailed.Add(1)
	}
	if speech.HasAudio() {
		a := base
		a.Kind, a.Text = publish.KindAudio, tr.Text
		a.PCM, a.SampleRate, a.Channels = speech.PCM, speech.SampleRate, speech.Channels
		if err := p.publisher.Publish(ctx, lang, a); err != nil {
			p.stats.publishFailed.Add(1)
		}
	}
	p.metrics.RecordUtteranceLatency(ctx, lang, time.Since(j.emitted))
	return tr, speech.Source
}
