// Package synthetic provides an [audio.Source] that generates white-noise
// "speech" bursts separated by silence. It stands in for a real capture device
// on hosts without one and is the fallback when the configured source fails
// to start.
//
// Each cycle emits a noise burst whose length is drawn uniformly from
// [burstMin, burstMax] (default 1.5–4 s) with samples drawn from N(0, σ)
// (σ = 0.1 of full scale), followed by interval (default 3 s) of silence.
package synthetic

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

const (
	defaultSampleRate = 16000
	defaultFrameSize  = 1024 // samples per frame
	defaultInterval   = 3 * time.Second
	defaultBurstMin   = 1500 * time.Millisecond
	defaultBurstMax   = 4 * time.Second
	defaultSigma      = 0.1
)

// Option is a functional option for [New].
type Option func(*Source)

// WithSampleRate sets the output sample rate. Output is always mono.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithFrameSize sets the number of samples per emitted frame.
func WithFrameSize(samples int) Option {
	return func(s *Source) { s.frameSize = samples }
}

// WithInterval sets the silence gap between bursts.
func WithInterval(d time.Duration) Option {
	return func(s *Source) { s.interval = d }
}

// WithBurst sets the range burst lengths are drawn from.
func WithBurst(minLen, maxLen time.Duration) Option {
	return func(s *Source) { s.burstMin, s.burstMax = minLen, maxLen }
}

// WithSigma sets the noise standard deviation as a fraction of full scale.
func WithSigma(sigma float64) Option {
	return func(s *Source) { s.sigma = sigma }
}

// WithSeed makes the generated noise and burst lengths deterministic.
func WithSeed(seed uint64) Option {
	return func(s *Source) { s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithRealtime controls whether frames are paced at playback speed (default
// true). Disable it in tests to generate audio as fast as it is consumed.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// Source generates noise bursts. Create with [New].
type Source struct {
	sampleRate int
	frameSize  int
	interval   time.Duration
	burstMin   time.Duration
	burstMax   time.Duration
	sigma      float64
	realtime   bool
	rng        *rand.Rand

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a synthetic Source.
func New(opts ...Option) *Source {
	s := &Source{
		sampleRate: defaultSampleRate,
		frameSize:  defaultFrameSize,
		interval:   defaultInterval,
		burstMin:   defaultBurstMin,
		burstMax:   defaultBurstMax,
		sigma:      defaultSigma,
		realtime:   true,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if s.burstMax < s.burstMin {
		s.burstMax = s.burstMin
	}
	return s
}

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	out := make(chan audio.AudioFrame, 4)
	go s.run(ctx, out)
	return out, nil
}

// Close stops generation. Safe to call more than once.
func (s *Source) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *Source) run(ctx context.Context, out chan<- audio.AudioFrame) {
	defer close(out)

	format := audio.Format{SampleRate: s.sampleRate, Channels: 1}
	frameDur := format.Duration(s.frameSize * 2)

	var tick <-chan time.Time
	if s.realtime {
		t := time.NewTicker(frameDur)
		defer t.Stop()
		tick = t.C
	}

	var (
		burstLeft   = s.nextBurst()
		silenceLeft = 0
		offset      time.Duration
	)
	for {
		samples := make([]int16, s.frameSize)
		for i := range samples {
			if burstLeft == 0 && silenceLeft == 0 {
				burstLeft = s.nextBurst()
			}
			if burstLeft > 0 {
				samples[i] = s.noiseSample()
				burstLeft--
				if burstLeft == 0 {
					silenceLeft = int(s.interval.Seconds() * float64(s.sampleRate))
				}
				continue
			}
			silenceLeft--
		}

		frame := audio.AudioFrame{
			Data:       audio.Int16sToBytes(samples),
			SampleRate: s.sampleRate,
			Channels:   1,
			Timestamp:  offset,
		}
		offset += frameDur

		select {
		case out <- frame:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}

		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}

func (s *Source) nextBurst() int {
	span := s.burstMax - s.burstMin
	d := s.burstMin
	if span > 0 {
		d += time.Duration(s.rng.Int64N(int64(span)))
	}
	return max(1, int(d.Seconds()*float64(s.sampleRate)))
}

func (s *Source) noiseSample() int16 {
	v := s.rng.NormFloat64() * s.sigma
	v = math.Max(-1, math.Min(1, v))
	return int16(v * 32767)
}
