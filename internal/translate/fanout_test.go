package translate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/pkg/provider/translate/mock"
)

func TestFanout_EveryLanguageHasAnEntry(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{
		ProviderName: "deepl",
		TranslateFunc: func(_ context.Context, text, _, target string) (string, error) {
			if target == "en" {
				return "", errors.New("quota exceeded")
			}
			return target + ":" + text, nil
		},
	}
	f := NewFanout(NewChain([]Link{{Provider: p}}), []string{"en", "vi", "ko", "vi"})

	set := f.Translate(context.Background(), RecognitionResult{
		UtteranceID: "u1", Seq: 7, Text: "你好", Language: "zh",
	})

	if set.UtteranceID != "u1" || set.Seq != 7 || set.Source != "你好" || set.SourceLang != "zh" {
		t.Errorf("set header = %+v", set)
	}
	if langs := set.Langs(); len(langs) != 3 {
		t.Fatalf("Langs() = %v, want 3 entries", langs)
	}
	if en := set.Entries["en"]; en.Outcome != Fallback || en.Text != "你好" {
		t.Errorf("en = %+v, want source-text fallback", en)
	}
	if ko := set.Entries["ko"]; ko.Outcome != Translated || ko.Text != "ko:你好" {
		t.Errorf("ko = %+v, want translated", ko)
	}
	if set.Count(Translated) != 2 || set.Count(Fallback) != 1 {
		t.Errorf("counts translated=%d fallback=%d", set.Count(Translated), set.Count(Fallback))
	}
}

func TestFanout_SlowLanguageDoesNotDelayOthers(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	koDone := make(chan time.Time, 1)
	p := &mock.Provider{
		TranslateFunc: func(ctx context.Context, text, _, target string) (string, error) {
			if target == "vi" {
				select {
				case <-release:
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			if target == "ko" {
				koDone <- time.Now()
			}
			return text, nil
		},
	}
	f := NewFanout(NewChain([]Link{{Provider: p}}), []string{"vi", "ko"})

	done := make(chan TranslationSet, 1)
	go func() { done <- f.Translate(context.Background(), RecognitionResult{Text: "你好", Language: "zh"}) }()

	select {
	case <-koDone:
	case <-time.After(2 * time.Second):
		t.Fatal("ko task blocked behind vi")
	}
	close(release)

	set := <-done
	if set.Entries["vi"].Outcome != Translated || set.Entries["ko"].Outcome != Translated {
		t.Errorf("entries = %+v", set.Entries)
	}
}

func TestFanout_Languages(t *testing.T) {
	t.Parallel()
	f := NewFanout(NewChain(nil), []string{"en", "", "en", "th"})
	got := f.Languages()
	if len(got) != 2 || got[0] != "en" || got[1] != "th" {
		t.Errorf("Languages() = %v, want [en th]", got)
	}
}
