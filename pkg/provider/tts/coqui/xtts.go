package coqui

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"

	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

const (
	xttsEndpoint           = "/tts"
	cloneSpeakerEndpoint   = "/clone_speaker"
	studioSpeakersEndpoint = "/studio_speakers"
)

var (
	_ tts.Provider = (*XTTS)(nil)
	_ tts.Cloner   = (*XTTS)(nil)
	_ tts.Encoder  = (*XTTS)(nil)
)

// Latents are the XTTS speaker conditioning tensors. Their JSON encoding is
// the embedding blob stored per voice profile.
type Latents struct {
	SpeakerEmbedding []float32   `json:"speaker_embedding"`
	GPTCondLatent    [][]float32 `json:"gpt_cond_latent"`
}

type xttsRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Latents
}

// XTTS implements [tts.Provider], [tts.Cloner] and [tts.Encoder] against the
// XTTS v2 streaming server.
type XTTS struct {
	serverURL string
	opts      options

	mu     sync.Mutex
	studio map[string]Latents
}

// NewXTTS creates an XTTS client for the server at serverURL
// (e.g. "http://localhost:8002").
func NewXTTS(serverURL string, opts ...Option) (*XTTS, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	return &XTTS{
		serverURL: strings.TrimRight(serverURL, "/"),
		opts:      newOptions(opts),
	}, nil
}

// Encode uploads a reference WAV to /clone_speaker and returns the latents.
// Vector is the speaker embedding.
func (x *XTTS) Encode(ctx context.Context, wav []byte) (tts.Embedding, error) {
	if len(wav) == 0 {
		return tts.Embedding{}, errors.New("coqui: reference sample is empty")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("wav_file", "reference.wav")
	if err != nil {
		return tts.Embedding{}, fmt.Errorf("coqui: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return tts.Embedding{}, fmt.Errorf("coqui: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return tts.Embedding{}, fmt.Errorf("coqui: close multipart writer: %w", err)
	}

	data, err := postJSON(ctx, x.opts.httpClient, x.serverURL+cloneSpeakerEndpoint, body.Bytes(), mw.FormDataContentType())
	if err != nil {
		return tts.Embedding{}, fmt.Errorf("coqui: POST %s: %w", cloneSpeakerEndpoint, err)
	}
	var lat Latents
	if err := json.Unmarshal(data, &lat); err != nil {
		return tts.Embedding{}, fmt.Errorf("coqui: decode clone-speaker response: %w", err)
	}
	if len(lat.SpeakerEmbedding) == 0 || len(lat.GPTCondLatent) == 0 {
		return tts.Embedding{}, errors.New("coqui: clone-speaker response missing latents")
	}
	blob, err := json.Marshal(lat)
	if err != nil {
		return tts.Embedding{}, fmt.Errorf("coqui: marshal latents: %w", err)
	}
	return tts.Embedding{Data: blob, Vector: lat.SpeakerEmbedding}, nil
}

// SynthesizeClone speaks text with the latents in embedding.
func (x *XTTS) SynthesizeClone(ctx context.Context, text, lang string, embedding []byte) (tts.Speech, error) {
	var lat Latents
	if err := json.Unmarshal(embedding, &lat); err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: decode embedding: %w", err)
	}
	return x.speak(ctx, text, lang, lat)
}

// Synthesize speaks with the studio speaker named by req.Voice.
func (x *XTTS) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	lat, err := x.studioSpeaker(ctx, req.Voice)
	if err != nil {
		return tts.Speech{}, err
	}
	return x.speak(ctx, req.Text, req.Lang, lat)
}

func (x *XTTS) speak(ctx context.Context, text, lang string, lat Latents) (tts.Speech, error) {
	body, err := json.Marshal(xttsRequest{Text: text, Language: x.opts.lang(lang), Latents: lat})
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	data, err := postJSON(ctx, x.opts.httpClient, x.serverURL+xttsEndpoint, body, "application/json")
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: POST %s: %w", xttsEndpoint, err)
	}
	// The server answers with a JSON string holding a base64 WAV file.
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: decode tts response: %w", err)
	}
	wav, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: decode base64 audio: %w", err)
	}
	return x.opts.decode(wav)
}

// studioSpeaker returns the latents for name, loading the catalogue once.
// An empty name picks the alphabetically first speaker.
func (x *XTTS) studioSpeaker(ctx context.Context, name string) (Latents, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.studio == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.serverURL+studioSpeakersEndpoint, nil)
		if err != nil {
			return Latents{}, fmt.Errorf("coqui: create studio-speakers request: %w", err)
		}
		resp, err := x.opts.httpClient.Do(req)
		if err != nil {
			return Latents{}, fmt.Errorf("coqui: GET %s: %w", studioSpeakersEndpoint, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return Latents{}, fmt.Errorf("coqui: GET %s returned status %d", studioSpeakersEndpoint, resp.StatusCode)
		}
		var speakers map[string]Latents
		if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
			return Latents{}, fmt.Errorf("coqui: decode studio speakers: %w", err)
		}
		x.studio = speakers
	}

	if name == "" {
		for n := range x.studio {
			if name == "" || n < name {
				name = n
			}
		}
	}
	lat, ok := x.studio[name]
	if !ok {
		return Latents{}, fmt.Errorf("coqui: unknown studio speaker %q", name)
	}
	return lat, nil
}
