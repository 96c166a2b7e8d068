// Package segment turns a continuous stream of capture frames into discrete
// utterances for recognition.
//
// The segmenter buffers frames and emits the buffer when one of two rules
// fires:
//
//   - the buffered duration reaches MaxLen, or
//   - the buffered duration is at least MinLen and no voiced frame has arrived
//     for IdleGap.
//
// A frame is voiced when its normalised RMS is at or above SilenceThreshold.
// Idle time is measured on the wall clock from the later of the last voiced
// frame and the previous emission, so a source that simply stops sending
// frames still closes the utterance on the next [Segmenter.Tick].
//
// On emission trailing unvoiced frames are trimmed. If what remains has an RMS
// below the threshold the utterance is discarded as silence. Either way the
// buffer and the idle timer reset.
package segment

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/babelcast/pkg/audio"
)

// Defaults for [Config].
const (
	DefaultMinLen           = time.Second
	DefaultMaxLen           = 10 * time.Second
	DefaultIdleGap          = 3 * time.Second
	DefaultSilenceThreshold = 0.01

	// TickInterval is how often [Segmenter.Run] re-evaluates the idle rule
	// while no frames arrive.
	TickInterval = 100 * time.Millisecond
)

// Config holds the segmentation thresholds.
type Config struct {
	MinLen           time.Duration
	MaxLen           time.Duration
	IdleGap          time.Duration
	SilenceThreshold float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinLen:           DefaultMinLen,
		MaxLen:           DefaultMaxLen,
		IdleGap:          DefaultIdleGap,
		SilenceThreshold: DefaultSilenceThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinLen <= 0 {
		c.MinLen = d.MinLen
	}
	if c.MaxLen <= 0 {
		c.MaxLen = d.MaxLen
	}
	if c.IdleGap <= 0 {
		c.IdleGap = d.IdleGap
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.MaxLen < c.MinLen {
		c.MaxLen = c.MinLen
	}
	return c
}

// Utterance is one emitted speech segment.
type Utterance struct {
	// ID uniquely identifies the utterance across the process.
	ID string

	// Seq is strictly increasing per segmenter, starting at 1. Discarded
	// segments do not consume a sequence number.
	Seq uint64

	// Frames in capture order, trailing silence already trimmed.
	Frames []audio.AudioFrame

	// Start and End are stream offsets of the first sample and one past the
	// last sample.
	Start time.Duration
	End   time.Duration

	// RMS is the normalised energy of the kept frames.
	RMS float64
}

// PCM concatenates the frame data.
func (u Utterance) PCM() []byte {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	pcm := make([]byte, 0, n)
	for _, f := range u.Frames {
		pcm = append(pcm, f.Data...)
	}
	return pcm
}

// Format returns the format of the first frame.
func (u Utterance) Format() audio.Format {
	if len(u.Frames) == 0 {
		return audio.Format{}
	}
	return u.Frames[0].Format()
}

// Duration is the total length of the kept frames.
func (u Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}

// Outcome is the result of feeding the segmenter.
type Outcome int

const (
	// Pending means the buffer is still accumulating.
	Pending Outcome = iota

	// Emitted means an utterance was produced.
	Emitted

	// Silent means the buffer was flushed and discarded as silence.
	Silent
)

// String returns the outcome name used in logs and metric attributes.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Emitted:
		return "forwarded"
	case Silent:
		return "silent"
	default:
		return "unknown"
	}
}

// Stats counts segmenter results.
type Stats struct {
	Emitted uint64
	Silent  uint64
}

// Option is a functional option for [New].
type Option func(*Segmenter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Segmenter) { s.now = now }
}

// WithIDGenerator replaces the uuid-based utterance ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Segmenter) { s.newID = fn }
}

// WithResultHook registers fn to be called for every emitted or discarded
// segment with its buffered duration.
func WithResultHook(fn func(o Outcome, buffered time.Duration)) Option {
	return func(s *Segmenter) { s.onResult = fn }
}

// Segmenter is the ACCUMULATING → READY → ACCUMULATING state machine. It is
// not safe for concurrent use; [Segmenter.Run] owns it for the pipeline's
// lifetime.
type Segmenter struct {
	cfg      Config
	now      func() time.Time
	newID    func() string
	onResult func(Outcome, time.Duration)

	buf       []audio.AudioFrame
	buffered  time.Duration
	voicedEnd int // buf[:voicedEnd] ends with the last voiced frame
	lastVoice time.Time

	seq   uint64
	stats Stats
}

// New creates a Segmenter. Zero fields in cfg take their defaults.
func New(cfg Config, opts ...Option) *Segmenter {
	s := &Segmenter{
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	s.lastVoice = s.now()
	return s
}

// Config returns the effective thresholds.
func (s *Segmenter) Config() Config { return s.cfg }

// Stats returns the counters so far.
func (s *Segmenter) Stats() Stats { return s.stats }

// Buffered returns the duration currently accumulated.
func (s *Segmenter) Buffered() time.Duration { return s.buffered }

// Push appends frame and evaluates the emission rules. A voiced frame that
// arrives after the idle rule already holds closes the buffered utterance
// first and starts the next one.
func (s *Segmenter) Push(frame audio.AudioFrame) (Utterance, Outcome) {
	if len(frame.Data) == 0 {
		return s.evaluate()
	}
	voiced := audio.RMS(frame.Data) >= s.cfg.SilenceThreshold
	if voiced && s.idleDue() {
		u, oc := s.emit()
		s.add(frame, voiced)
		return u, oc
	}
	s.add(frame, voiced)
	return s.evaluate()
}

func (s *Segmenter) add(frame audio.AudioFrame, voiced bool) {
	s.buf = append(s.buf, frame)
	s.buffered += frame.Duration()
	if voiced {
		s.voicedEnd = len(s.buf)
		s.lastVoice = s.now()
	}
}

func (s *Segmenter) idleDue() bool {
	return len(s.buf) > 0 && s.buffered >= s.cfg.MinLen && s.now().Sub(s.lastVoice) >= s.cfg.IdleGap
}

// Tick evaluates the idle rule without a new frame.
func (s *Segmenter) Tick() (Utterance, Outcome) {
	return s.evaluate()
}

// Flush emits whatever is buffered if it reaches MinLen, else discards it.
// Used at end of stream.
func (s *Segmenter) Flush() (Utterance, Outcome) {
	if len(s.buf) == 0 {
		return Utterance{}, Pending
	}
	if s.buffered < s.cfg.MinLen {
		s.reset()
		return Utterance{}, Pending
	}
	return s.emit()
}

func (s *Segmenter) evaluate() (Utterance, Outcome) {
	if len(s.buf) == 0 {
		return Utterance{}, Pending
	}
	if s.buffered >= s.cfg.MaxLen {
		return s.emit()
	}
	if s.idleDue() {
		return s.emit()
	}
	return Utterance{}, Pending
}

func (s *Segmenter) emit() (Utterance, Outcome) {
	buffered := s.buffered
	kept := s.buf[:s.voicedEnd]
	u := Utterance{Frames: kept}
	u.RMS = audio.RMS(u.PCM())
	s.reset()

	if len(kept) == 0 || u.RMS < s.cfg.SilenceThreshold {
		s.stats.Silent++
		slog.Debug("segmenter: discarded silent segment", "buffered", buffered, "rms", u.RMS)
		s.report(Silent, buffered)
		return Utterance{}, Silent
	}

	s.seq++
	u.ID = s.newID()
	u.Seq = s.seq
	u.Start = kept[0].Timestamp
	last := kept[len(kept)-1]
	u.End = last.Timestamp + last.Duration()
	s.stats.Emitted++
	s.report(Emitted, buffered)
	return u, Emitted
}

func (s *Segmenter) report(o Outcome, buffered time.Duration) {
	if s.onResult != nil {
		s.onResult(o, buffered)
	}
}

func (s *Segmenter) reset() {
	s.buf = nil
	s.buffered = 0
	s.voicedEnd = 0
	s.lastVoice = s.now()
}

// Run consumes frames from in until it is closed or ctx is cancelled, calling
// emit for every utterance. The idle rule is re-evaluated every
// [TickInterval]. When in closes, any buffered audio is flushed.
func (s *Segmenter) Run(ctx context.Context, in <-chan audio.AudioFrame, emit func(Utterance)) error {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		var (
			u  Utterance
			oc Outcome
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-in:
			if !ok {
				if u, oc = s.Flush(); oc == Emitted {
					emit(u)
				}
				return nil
			}
			u, oc = s.Push(frame)
		case <-ticker.C:
			u, oc = s.Tick()
		}
		if oc == Emitted {
			emit(u)
		}
	}
}
