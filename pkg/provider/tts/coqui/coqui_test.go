package coqui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

var wavFormat = audio.Format{SampleRate: 16000, Channels: 1}

func testPCM() []byte {
	return audio.Int16sToBytes([]int16{100, -100, 200, -200, 300, -300})
}

func mustNew(t *testing.T, serverURL string, opts ...Option) *Provider {
	t.Helper()
	p, err := New(serverURL, opts...)
	if err != nil {
		t.Fatalf("New(%q): unexpected error: %v", serverURL, err)
	}
	return p
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		p := mustNew(t, "http://localhost:5002/")
		if p.serverURL != "http://localhost:5002" {
			t.Errorf("serverURL = %q, want trailing slash stripped", p.serverURL)
		}
		if p.opts.language != defaultLanguage {
			t.Errorf("language = %q, want %q", p.opts.language, defaultLanguage)
		}
		if p.opts.httpClient.Timeout != defaultTimeout {
			t.Errorf("timeout = %v, want %v", p.opts.httpClient.Timeout, defaultTimeout)
		}
	})

	t.Run("options", func(t *testing.T) {
		p := mustNew(t, "http://x", WithLanguage("ko"), WithTimeout(5*time.Second), WithOutputSampleRate(48000))
		if p.opts.language != "ko" || p.opts.httpClient.Timeout != 5*time.Second || p.opts.outputRate != 48000 {
			t.Errorf("opts = %+v", p.opts)
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Error("expected error for empty serverURL")
		}
		if _, err := NewXTTS(""); err == nil {
			t.Error("expected error for empty XTTS serverURL")
		}
	})
}

func TestProvider_Synthesize(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint || r.Method != http.MethodGet {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(testPCM(), wavFormat))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL)
	speech, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there.", Lang: "en", Voice: "p225"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(speech.PCM) != string(testPCM()) {
		t.Errorf("PCM = %v, want WAV payload", speech.PCM)
	}
	if speech.Format != wavFormat {
		t.Errorf("Format = %v, want %v", speech.Format, wavFormat)
	}
	for _, want := range []string{"text=Hello+there.", "speaker_id=p225", "language_id=en"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestProvider_SynthesizeResamples(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 3200), wavFormat))
	}))
	defer srv.Close()

	p := mustNew(t, srv.URL, WithOutputSampleRate(48000))
	speech, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if speech.Format.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", speech.Format.SampleRate)
	}
	if speech.Duration() != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", speech.Duration())
	}
}

func TestProvider_SynthesizeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}},
		{"not a wav", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("garbage"))
		}},
		{"empty audio", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(audio.EncodeWAV(nil, wavFormat))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()
			if _, err := mustNew(t, srv.URL).Synthesize(context.Background(), tts.Request{Text: "x"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// fakeXTTS mimics the XTTS streaming server.
func fakeXTTS(t *testing.T) *httptest.Server {
	t.Helper()
	latents := Latents{SpeakerEmbedding: []float32{0.1, 0.2, 0.3}, GPTCondLatent: [][]float32{{1, 2}, {3, 4}}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cloneSpeakerEndpoint, func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("wav_file")
		if err != nil {
			t.Errorf("missing wav_file: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer f.Close()
		if b, _ := io.ReadAll(f); len(b) == 0 {
			t.Error("empty upload")
		}
		_ = json.NewEncoder(w).Encode(latents)
	})
	mux.HandleFunc("POST "+xttsEndpoint, func(w http.ResponseWriter, r *http.Request) {
		var req xttsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Text == "" || req.Language == "" || len(req.SpeakerEmbedding) != 3 {
			t.Errorf("request = %+v", req)
		}
		wav := audio.EncodeWAV(testPCM(), audio.Format{SampleRate: 24000, Channels: 1})
		_ = json.NewEncoder(w).Encode(base64.StdEncoding.EncodeToString(wav))
	})
	mux.HandleFunc("GET "+studioSpeakersEndpoint, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]Latents{"Ana Florence": latents, "Claribel Dervla": latents})
	})
	return httptest.NewServer(mux)
}

func TestXTTS_EncodeThenClone(t *testing.T) {
	t.Parallel()

	srv := fakeXTTS(t)
	defer srv.Close()

	x, err := NewXTTS(srv.URL, WithLanguage("zh-cn"))
	if err != nil {
		t.Fatalf("NewXTTS: %v", err)
	}
	emb, err := x.Encode(context.Background(), audio.EncodeWAV(testPCM(), wavFormat))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(emb.Vector) != 3 || emb.Vector[2] != 0.3 {
		t.Errorf("Vector = %v, want speaker embedding", emb.Vector)
	}

	speech, err := x.SynthesizeClone(context.Background(), "안녕하세요", "ko", emb.Data)
	if err != nil {
		t.Fatalf("SynthesizeClone: %v", err)
	}
	if speech.Format.SampleRate != 24000 || string(speech.PCM) != string(testPCM()) {
		t.Errorf("speech = %v %v", speech.Format, speech.PCM)
	}
}

func TestXTTS_SynthesizeStudioSpeaker(t *testing.T) {
	t.Parallel()

	srv := fakeXTTS(t)
	defer srv.Close()

	x, _ := NewXTTS(srv.URL)
	if _, err := x.Synthesize(context.Background(), tts.Request{Text: "Hello.", Voice: "Ana Florence"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, err := x.Synthesize(context.Background(), tts.Request{Text: "Hello."}); err != nil {
		t.Fatalf("Synthesize default speaker: %v", err)
	}
	if _, err := x.Synthesize(context.Background(), tts.Request{Text: "Hello.", Voice: "nobody"}); err == nil {
		t.Error("expected error for unknown studio speaker")
	}
}

func TestXTTS_EncodeRejectsEmpty(t *testing.T) {
	t.Parallel()
	x, _ := NewXTTS("http://127.0.0.1:1")
	if _, err := x.Encode(context.Background(), nil); err == nil {
		t.Error("expected error for empty sample")
	}
	if _, err := x.SynthesizeClone(context.Background(), "hi", "en", []byte("not json")); err == nil {
		t.Error("expected error for malformed embedding")
	}
}
