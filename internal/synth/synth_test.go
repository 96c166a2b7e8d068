package synth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/internal/resilience"
	"github.com/MrWong99/babelcast/internal/translate"
	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
	ttsmock "github.com/MrWong99/babelcast/pkg/provider/tts/mock"
	"github.com/MrWong99/babelcast/pkg/voice"
)

type fakeStore map[string]voice.Profile

func (s fakeStore) ActiveProfile(lang string) (voice.Profile, bool) {
	p, ok := s[lang]
	return p, ok
}

var (
	cloneAudio   = tts.Speech{PCM: []byte{1, 1, 1, 1}, Format: audio.Format{SampleRate: 24000, Channels: 1}}
	genericAudio = tts.Speech{PCM: []byte{2, 2}, Format: audio.Format{SampleRate: 16000, Channels: 1}}
	readyAlice   = voice.Profile{SpeakerID: "alice", Status: voice.StatusReady, Embedding: []byte("latents")}
)

func TestSynthesizeLang(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		store      fakeStore
		cloneErr   error
		genericErr error
		want       Source
		wantClones int
	}{
		{name: "ready profile clones", store: fakeStore{"en": readyAlice}, want: SourceClone, wantClones: 1},
		{name: "no active speaker", store: fakeStore{}, want: SourceGeneric},
		{name: "pending profile", store: fakeStore{"en": {SpeakerID: "bob", Status: voice.StatusPending}}, want: SourceGeneric},
		{name: "unknown speaker", store: fakeStore{"en": {SpeakerID: "carol", Status: voice.StatusNotFound}}, want: SourceGeneric},
		{name: "clone failure", store: fakeStore{"en": readyAlice}, cloneErr: errors.New("xtts down"), want: SourceGeneric, wantClones: 1},
		{name: "everything fails", store: fakeStore{"en": readyAlice}, cloneErr: errors.New("x"), genericErr: errors.New("y"), want: SourceTextOnly, wantClones: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cloner := &ttsmock.Provider{Speech: cloneAudio, CloneErr: tt.cloneErr}
			generic := &ttsmock.Provider{Speech: genericAudio, SynthesizeErr: tt.genericErr}

			f := New(tt.store, cloner, generic, WithDefaultVoices(map[string]string{"en": "en-US-Neural2-J"}))
			got := f.SynthesizeLang(context.Background(), "en", "Hello everyone")

			if got.Source != tt.want {
				t.Fatalf("Source = %q, want %q", got.Source, tt.want)
			}
			if got.Text != "Hello everyone" || got.Lang != "en" {
				t.Errorf("text/lang = %q/%q, want the input", got.Text, got.Lang)
			}
			if n := cloner.CloneCount(); n != tt.wantClones {
				t.Errorf("clone calls = %d, want %d", n, tt.wantClones)
			}
			switch tt.want {
			case SourceClone:
				if string(cloner.CloneCalls[0].Embedding) != "latents" {
					t.Errorf("embedding = %q, want latents", cloner.CloneCalls[0].Embedding)
				}
				if got.SampleRate != 24000 || got.Provider != "alice" {
					t.Errorf("got %+v", got)
				}
			case SourceGeneric:
				if v := generic.SynthesizeCalls[0].Voice; v != "en-US-Neural2-J" {
					t.Errorf("voice = %q, want default voice", v)
				}
				if !got.HasAudio() || got.SampleRate != 16000 {
					t.Errorf("got %+v", got)
				}
			case SourceTextOnly:
				if got.HasAudio() {
					t.Error("text-only result carries audio")
				}
			}
		})
	}
}

func TestSynthesizeLang_EmptyAudioFallsBack(t *testing.T) {
	t.Parallel()
	cloner := &ttsmock.Provider{}
	generic := &ttsmock.Provider{Speech: genericAudio}

	got := New(fakeStore{"vi": readyAlice}, cloner, generic).SynthesizeLang(context.Background(), "vi", "Xin chào")
	if got.Source != SourceGeneric {
		t.Fatalf("Source = %q, want generic", got.Source)
	}
}

func TestSynthesizeLang_GenericGroupReportsBackend(t *testing.T) {
	t.Parallel()
	group := resilience.NewTTSFallback(&ttsmock.Provider{SynthesizeErr: errors.New("quota")}, "google", resilience.FallbackConfig{})
	group.AddFallback("coqui", &ttsmock.Provider{Speech: genericAudio})

	got := New(nil, nil, group).SynthesizeLang(context.Background(), "ko", "안녕하세요")
	if got.Source != SourceGeneric || got.Provider != "coqui" {
		t.Fatalf("got source %q provider %q, want generic from coqui", got.Source, got.Provider)
	}
}

func TestSynthesizeLang_TextOnlyWithoutBackends(t *testing.T) {
	t.Parallel()
	f := New(nil, nil, nil)
	if got := f.SynthesizeLang(context.Background(), "th", "สวัสดี"); got.Source != SourceTextOnly {
		t.Fatalf("Source = %q, want text_only", got.Source)
	}
	if got := f.SynthesizeLang(context.Background(), "th", ""); got.Source != SourceTextOnly {
		t.Fatalf("empty text Source = %q, want text_only", got.Source)
	}
}

func TestSynthesizeLang_Timeout(t *testing.T) {
	t.Parallel()
	generic := &ttsmock.Provider{SynthesizeFunc: func(ctx context.Context, _ tts.Request) (tts.Speech, error) {
		<-ctx.Done()
		return tts.Speech{}, ctx.Err()
	}}
	start := time.Now()
	got := New(nil, nil, generic, WithTimeout(20*time.Millisecond)).SynthesizeLang(context.Background(), "ms", "Selamat")
	if got.Source != SourceTextOnly {
		t.Fatalf("Source = %q, want text_only", got.Source)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not applied")
	}
}

func TestSynthesize_AllLanguages(t *testing.T) {
	t.Parallel()
	set := translate.TranslationSet{
		UtteranceID: "u1",
		Entries: map[string]translate.Translation{
			"en": {Lang: "en", Text: "Hello", Outcome: translate.Translated},
			"vi": {Lang: "vi", Text: "Xin chào", Outcome: translate.Translated},
			"ko": {Lang: "ko", Text: "你好", Outcome: translate.Fallback},
		},
	}
	cloner := &ttsmock.Provider{Speech: cloneAudio}
	generic := &ttsmock.Provider{Speech: genericAudio}

	out := New(fakeStore{"vi": readyAlice}, cloner, generic).Synthesize(context.Background(), set)
	if len(out) != 3 {
		t.Fatalf("got %d languages, want 3", len(out))
	}
	if out["vi"].Source != SourceClone || out["en"].Source != SourceGeneric || out["ko"].Source != SourceGeneric {
		t.Errorf("sources = vi:%s en:%s ko:%s", out["vi"].Source, out["en"].Source, out["ko"].Source)
	}
}
