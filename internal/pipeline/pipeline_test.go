package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/internal/segment"
	"github.com/MrWong99/babelcast/internal/synth"
	"github.com/MrWong99/babelcast/internal/translate"
	"github.com/MrWong99/babelcast/pkg/audio"
	audiomock "github.com/MrWong99/babelcast/pkg/audio/mock"
	sttmock "github.com/MrWong99/babelcast/pkg/provider/stt/mock"
	"github.com/MrWong99/babelcast/pkg/publish"
	publishmock "github.com/MrWong99/babelcast/pkg/publish/mock"
)

const frameDur = 20 * time.Millisecond

// loudFrames returns n 20 ms frames of 16 kHz mono audio well above the
// silence threshold.
func loudFrames(n int) []audio.AudioFrame {
	frames := make([]audio.AudioFrame, n)
	for i := range frames {
		data := make([]byte, 640)
		for j := 0; j < len(data); j += 2 {
			binary.LittleEndian.PutUint16(data[j:], uint16(3000))
		}
		frames[i] = audio.AudioFrame{Data: data, SampleRate: 16000, Channels: 1, Timestamp: time.Duration(i) * frameDur}
	}
	return frames
}

// testConfig emits one utterance every 10 frames.
func testConfig() Config {
	return Config{
		SourceLanguage: "zh",
		Segmenter: segment.Config{
			MinLen:  100 * time.Millisecond,
			MaxLen:  200 * time.Millisecond,
			IdleGap: time.Minute,
		},
	}
}

type fakeTranslator struct {
	langs []string
	delay func(res translate.RecognitionResult, lang string) time.Duration
}

func (f *fakeTranslator) Languages() []string { return f.langs }

func (f *fakeTranslator) TranslateLang(ctx context.Context, res translate.RecognitionResult, lang string) translate.Translation {
	if f.delay != nil {
		select {
		case <-time.After(f.delay(res, lang)):
		case <-ctx.Done():
		}
	}
	return translate.Translation{Lang: lang, Text: "[" + lang + "] " + res.Text, Outcome: translate.Translated, Provider: "fake"}
}

type fakeSynth struct {
	audioLangs map[string]bool
	block      chan struct{}
	started    chan struct{}
}

func (f *fakeSynth) SynthesizeLang(ctx context.Context, lang, text string) synth.Speech {
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return synth.Speech{Lang: lang, Text: text, Source: synth.SourceTextOnly}
		}
	}
	if !f.audioLangs[lang] {
		return synth.Speech{Lang: lang, Text: text, Source: synth.SourceTextOnly}
	}
	return synth.Speech{Lang: lang, Text: text, PCM: []byte{1, 2, 3, 4}, SampleRate: 16000, Channels: 1, Source: synth.SourceGeneric}
}

func TestPipeline_EndToEnd(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: loudFrames(30)}
	rec := &sttmock.Provider{Texts: []string{"大家好", "", "谢谢"}}
	tr := &fakeTranslator{langs: []string{"en", "vi"}}
	sy := &fakeSynth{audioLangs: map[string]bool{"en": true}}
	dialer := &publishmock.Dialer{}
	pub := publish.New(dialer, "conf")

	var (
		mu      sync.Mutex
		results []Result
	)
	p := New(testConfig(), src, rec, tr, sy, pub, WithResultHook(func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rec.CallCount() != 3 {
		t.Fatalf("recognizer calls = %d, want 3", rec.CallCount())
	}
	if got := rec.Calls[0]; got.Language != "zh" || got.Format.SampleRate != 16000 || len(got.PCM) != 10*640 {
		t.Errorf("recognizer request: lang %q format %s pcm %d", got.Language, got.Format, len(got.PCM))
	}

	en := dialer.Sent("en")
	if len(en) != 4 {
		t.Fatalf("en payloads = %d, want 4 (text+audio for two utterances)", len(en))
	}
	wantKinds := []publish.Kind{publish.KindText, publish.KindAudio, publish.KindText, publish.KindAudio}
	for i, pl := range en {
		if pl.Kind != wantKinds[i] {
			t.Errorf("en[%d].Kind = %s, want %s", i, pl.Kind, wantKinds[i])
		}
	}
	if en[0].Text != "[en] 大家好" || en[2].Text != "[en] 谢谢" || en[0].Seq != 1 || en[2].Seq != 3 {
		t.Errorf("en payloads = %+v", en)
	}
	vi := dialer.Sent("vi")
	if len(vi) != 2 || vi[0].Kind != publish.KindText {
		t.Errorf("vi payloads = %+v, want text only", vi)
	}

	st := p.Stats()
	if st.Recognized != 2 || st.RecognitionEmpty != 1 || st.Completed != 2 || st.SegmentsForwarded != 3 || st.Running {
		t.Errorf("stats = %+v", st)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	r := results[0]
	if len(r.Translations.Entries) != 2 || r.Sources["en"] != synth.SourceGeneric || r.Sources["vi"] != synth.SourceTextOnly {
		t.Errorf("result = %+v", r)
	}
	if !src.Closed {
		t.Error("source not closed")
	}
}

func TestPipeline_PerLanguageOrder(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: loudFrames(40)}
	rec := &sttmock.Provider{Text: "你好"}
	// The first utterance is slow in English only; later ones overtake it
	// in translation but must not be published before it.
	tr := &fakeTranslator{
		langs: []string{"en", "ko"},
		delay: func(res translate.RecognitionResult, lang string) time.Duration {
			if res.Seq == 1 && lang == "en" {
				return 150 * time.Millisecond
			}
			return 0
		},
	}
	dialer := &publishmock.Dialer{}
	p := New(testConfig(), src, rec, tr, &fakeSynth{}, publish.New(dialer, "conf"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, lang := range []string{"en", "ko"} {
		sent := dialer.Sent(lang)
		if len(sent) != 4 {
			t.Fatalf("%s payloads = %d, want 4", lang, len(sent))
		}
		for i, pl := range sent {
			if pl.Seq != uint64(i+1) {
				t.Errorf("%s[%d].Seq = %d, want %d", lang, i, pl.Seq, i+1)
			}
		}
	}
}

func TestPipeline_RecognitionFailureDropsUtterance(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: loudFrames(20)}
	rec := &sttmock.Provider{Err: errors.New("whisper unavailable")}
	dialer := &publishmock.Dialer{}
	p := New(testConfig(), src, rec, &fakeTranslator{langs: []string{"en"}}, &fakeSynth{}, publish.New(dialer, "conf"))

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.CallCount() != 2 {
		t.Errorf("recognizer calls = %d, want 2 (no retry)", rec.CallCount())
	}
	if n := len(dialer.Sent("en")); n != 0 {
		t.Errorf("published %d payloads, want 0", n)
	}
	if st := p.Stats(); st.RecognitionEmpty != 2 {
		t.Errorf("RecognitionEmpty = %d, want 2", st.RecognitionEmpty)
	}
}

func TestPipeline_FallbackSource(t *testing.T) {
	t.Parallel()

	broken := &audiomock.Source{StartErr: errors.New("no capture device")}
	fallback := &audiomock.Source{Frames: loudFrames(10)}
	dialer := &publishmock.Dialer{}

	p := New(testConfig(), broken, &sttmock.Provider{Text: "测试"}, &fakeTranslator{langs: []string{"th"}}, &fakeSynth{}, publish.New(dialer, "conf"),
		WithFallbackSource(fallback))
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !p.Stats().UsingFallbackAudio {
		t.Error("UsingFallbackAudio = false")
	}
	if len(dialer.Sent("th")) != 1 {
		t.Errorf("th payloads = %d, want 1", len(dialer.Sent("th")))
	}

	p = New(testConfig(), broken, &sttmock.Provider{}, &fakeTranslator{}, &fakeSynth{}, publish.New(dialer, "conf"))
	if err := p.Run(context.Background()); err == nil {
		t.Fatal("expected error without fallback source")
	}
}

func TestPipeline_ShutdownGraceCancelsJobs(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: loudFrames(10), Hold: true}
	sy := &fakeSynth{block: make(chan struct{}), started: make(chan struct{}, 1)}
	cfg := testConfig()
	cfg.ShutdownGrace = 50 * time.Millisecond
	p := New(cfg, src, &sttmock.Provider{Text: "再见"}, &fakeTranslator{langs: []string{"ms"}}, sy, publish.New(&publishmock.Dialer{}, "conf"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-sy.started:
	case <-time.After(2 * time.Second):
		t.Fatal("synthesis never started")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the shutdown grace")
	}
	if st := p.Stats(); st.InFlight != 0 || st.Completed != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestPipeline_ShutdownGraceWithFullJobSlots(t *testing.T) {
	t.Parallel()

	// Two utterances, one job slot: the recognizer waits for a slot while the
	// first job is stuck in synthesis.
	src := &audiomock.Source{Frames: loudFrames(20), Hold: true}
	sy := &fakeSynth{block: make(chan struct{}), started: make(chan struct{}, 1)}
	cfg := testConfig()
	cfg.MaxInFlight = 1
	cfg.ShutdownGrace = 50 * time.Millisecond
	p := New(cfg, src, &sttmock.Provider{Text: "请安静"}, &fakeTranslator{langs: []string{"en"}}, sy, publish.New(&publishmock.Dialer{}, "conf"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-sy.started:
	case <-time.After(2 * time.Second):
		t.Fatal("synthesis never started")
	}
	deadline := time.Now().Add(2 * time.Second)
	for p.Stats().Recognized < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second utterance never recognized, stats = %+v", p.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := p.Stats(); st.InFlight != 1 {
		t.Errorf("in flight = %d before shutdown, want 1 (only jobs holding a slot)", st.InFlight)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run still blocked after cancel, stats = %+v", p.Stats())
	}
	if st := p.Stats(); st.InFlight != 0 || st.Completed != 2 {
		t.Errorf("stats = %+v, want both jobs completed and none in flight", st)
	}
}

func TestPipeline_ShutdownWaitsForFastJobs(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: loudFrames(10), Hold: true}
	block := make(chan struct{})
	sy := &fakeSynth{block: block, started: make(chan struct{}, 1), audioLangs: map[string]bool{"en": true}}
	dialer := &publishmock.Dialer{}
	cfg := testConfig()
	cfg.ShutdownGrace = 2 * time.Second
	p := New(cfg, src, &sttmock.Provider{Text: "你好"}, &fakeTranslator{langs: []string{"en"}}, sy, publish.New(dialer, "conf"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	<-sy.started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(block)

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n := len(dialer.Sent("en")); n != 2 {
		t.Errorf("en payloads = %d, want text and audio published during grace", n)
	}
}
