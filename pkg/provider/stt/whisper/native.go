// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

// whisper.cpp models are trained on 16 kHz mono.
var nativeFormat = audio.Format{SampleRate: 16000, Channels: 1}

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements [stt.Provider] using the whisper.cpp Go bindings.
// The model is loaded once and shared; each call gets a fresh context because
// whisper contexts are not safe for concurrent use.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	threads  uint

	closeOnce sync.Once
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default recognition language. Defaults to "zh".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeThreads sets the number of inference threads (0 = library default).
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative loads the ggml model at modelPath. The caller must call Close.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model. Safe to call more than once.
func (p *NativeProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.model != nil {
			err = p.model.Close()
		}
	})
	return err
}

// Transcribe runs inference on req. The CGO call itself cannot be interrupted;
// ctx is checked before inference and between segments.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if len(req.PCM) == 0 {
		return "", nil
	}

	pcm := req.PCM
	if req.Format.SampleRate != nativeFormat.SampleRate {
		pcm = audio.ConvertPCM(pcm, req.Format, audio.Format{SampleRate: nativeFormat.SampleRate, Channels: req.Format.Channels})
	}
	samples := pcmToFloat32Mono(pcm, req.Format.Channels)

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using model default", "language", lang, "err", err)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("whisper: %w", err)
		}
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return joinSegments(parts, lang), nil
}

// joinSegments concatenates segment texts. Chinese, Japanese and Thai do not
// separate words with spaces.
func joinSegments(parts []string, lang string) string {
	sep := " "
	switch strings.ToLower(strings.SplitN(lang, "-", 2)[0]) {
	case "zh", "ja", "th":
		sep = ""
	}
	return strings.Join(parts, sep)
}
