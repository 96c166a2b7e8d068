package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	sttmock "github.com/MrWong99/babelcast/pkg/provider/stt/mock"
)

var sttReq = stt.Request{PCM: make([]byte, 320), Format: audio.Format{SampleRate: 16000, Channels: 1}, Language: "zh"}

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Text: "你好"}
	secondary := &sttmock.Provider{Text: "unused"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	text, err := fb.Transcribe(context.Background(), sttReq)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "你好" {
		t.Errorf("text = %q, want 你好", text)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestSTTFallback_EmptyTranscriptIsFinal(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	secondary := &sttmock.Provider{Text: "unused"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	text, err := fb.Transcribe(context.Background(), sttReq)
	if err != nil || text != "" {
		t.Fatalf("Transcribe = %q, %v; want empty, nil", text, err)
	}
	if secondary.CallCount() != 0 {
		t.Error("empty transcript must not fail over")
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{Err: errors.New("server down")}
	secondary := &sttmock.Provider{Text: "大家好"}

	fb := NewSTTFallback(primary, "whisper", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	text, err := fb.Transcribe(context.Background(), sttReq)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "大家好" {
		t.Errorf("text = %q, want 大家好", text)
	}
	if got := secondary.Calls[0].Language; got != "zh" {
		t.Errorf("forwarded language = %q, want zh", got)
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewSTTFallback(&sttmock.Provider{Err: errTest}, "whisper", FallbackConfig{})
	if _, err := fb.Transcribe(context.Background(), sttReq); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
