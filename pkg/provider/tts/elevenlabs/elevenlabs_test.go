package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

// fakeStream records the text messages of one session and answers with two
// audio chunks followed by the final marker.
type fakeStream struct {
	mu    sync.Mutex
	path  string
	query string
	texts []textMessage
}

func (f *fakeStream) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.path, f.query = r.URL.Path, r.URL.RawQuery
		f.mu.Unlock()

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var m textMessage
			_ = json.Unmarshal(data, &m)
			f.mu.Lock()
			f.texts = append(f.texts, m)
			f.mu.Unlock()
			if m.Text == "" {
				break
			}
		}
		for _, chunk := range []string{"\x01\x02", "\x03\x04"} {
			msg, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString([]byte(chunk))})
			_ = conn.Write(ctx, websocket.MessageText, msg)
		}
		final, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = conn.Write(ctx, websocket.MessageText, final)
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func wsBase(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty apiKey")
	}
}

func TestSynthesize_CollectsAudio(t *testing.T) {
	t.Parallel()

	fs := &fakeStream{}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	p, err := New("xi-key", WithBaseURLs(wsBase(srv), srv.URL), WithDefaultVoice("voice-1"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	speech, err := p.Synthesize(context.Background(), tts.Request{Text: "Hello there", Lang: "en"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(speech.PCM) != "\x01\x02\x03\x04" {
		t.Errorf("PCM = %v", speech.PCM)
	}
	if speech.Format.SampleRate != 24000 || speech.Format.Channels != 1 {
		t.Errorf("Format = %v, want 24kHz mono", speech.Format)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.path != "/v1/text-to-speech/voice-1/stream-input" {
		t.Errorf("path = %q", fs.path)
	}
	if !strings.Contains(fs.query, "model_id="+defaultModel) || !strings.Contains(fs.query, "output_format=pcm_24000") {
		t.Errorf("query = %q", fs.query)
	}
	if len(fs.texts) != 3 {
		t.Fatalf("got %d text messages, want BOI, text, flush", len(fs.texts))
	}
	if fs.texts[0].XiAPIKey != "xi-key" || fs.texts[0].VoiceSettings == nil {
		t.Errorf("BOI = %+v", fs.texts[0])
	}
	if fs.texts[1].Text != "Hello there " {
		t.Errorf("text = %q", fs.texts[1].Text)
	}
}

func TestSynthesizeClone_UsesEmbeddingAsVoice(t *testing.T) {
	t.Parallel()

	fs := &fakeStream{}
	srv := httptest.NewServer(fs.handler(t))
	defer srv.Close()

	p, _ := New("xi-key", WithBaseURLs(wsBase(srv), srv.URL))
	if _, err := p.SynthesizeClone(context.Background(), "Xin chào", "vi", []byte("cloned-42")); err != nil {
		t.Fatalf("SynthesizeClone: %v", err)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.path != "/v1/text-to-speech/cloned-42/stream-input" {
		t.Errorf("path = %q", fs.path)
	}
}

func TestSynthesize_NoVoice(t *testing.T) {
	t.Parallel()
	p, _ := New("xi-key")
	if _, err := p.Synthesize(context.Background(), tts.Request{Text: "hi"}); err == nil {
		t.Error("expected error without a voice")
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices/add" || r.Header.Get("xi-api-key") != "xi-key" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("files"); err != nil {
			t.Errorf("missing files part: %v", err)
		}
		_, _ = w.Write([]byte(`{"voice_id":"new-voice"}`))
	}))
	defer srv.Close()

	p, _ := New("xi-key", WithBaseURLs("ws://unused", srv.URL))
	emb, err := p.Encode(context.Background(), []byte("RIFF...."))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(emb.Data) != "new-voice" || emb.Vector != nil {
		t.Errorf("embedding = %+v", emb)
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()
	for in, wantErr := range map[string]bool{"pcm_16000": false, "pcm_44100": false, "mp3_44100_128": true, "pcm_x": true} {
		_, err := parseOutputFormat(in)
		if (err != nil) != wantErr {
			t.Errorf("parseOutputFormat(%q) err = %v, wantErr %v", in, err, wantErr)
		}
	}
}
