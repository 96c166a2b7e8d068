// Package google provides a synthesizer backed by the Google Cloud
// Text-to-Speech REST API (v1 text:synthesize, LINEAR16).
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

const (
	defaultEndpoint   = "https://texttospeech.googleapis.com/v1/text:synthesize"
	defaultSampleRate = 24000
	defaultTimeout    = 10 * time.Second
)

// DefaultVoices are the Neural2 voices used per target language when the
// configuration names none.
var DefaultVoices = map[string]string{
	"en": "en-US-Neural2-J",
	"vi": "vi-VN-Neural2-A",
	"ms": "ms-MY-Neural2-A",
	"th": "th-TH-Neural2-C",
	"ko": "ko-KR-Neural2-C",
	"ja": "ja-JP-Neural2-B",
	"zh": "cmn-CN-Wavenet-A",
}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Google Provider.
type Option func(*Provider)

// WithEndpoint overrides the synthesize URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithSampleRate sets the requested output rate. Defaults to 24000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithVoices replaces the language to voice-name table.
func WithVoices(voices map[string]string) Option {
	return func(p *Provider) { p.voices = voices }
}

// WithTimeout sets the HTTP client timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements [tts.Provider] against Google Cloud TTS with an API key.
type Provider struct {
	apiKey     string
	endpoint   string
	sampleRate int
	voices     map[string]string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("google: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		sampleRate: defaultSampleRate,
		voices:     DefaultVoices,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name,omitempty"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding   string `json:"audioEncoding"`
		SampleRateHertz int    `json:"sampleRateHertz"`
	} `json:"audioConfig"`
}

// Synthesize speaks req.Text. The voice is req.Voice or the table entry for
// req.Lang; its "ll-CC" prefix becomes the language code.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.voices[req.Lang]
	}
	var body synthesizeRequest
	body.Input.Text = req.Text
	body.Voice.Name = voice
	body.Voice.LanguageCode = languageCode(voice, req.Lang)
	body.AudioConfig.AudioEncoding = "LINEAR16"
	body.AudioConfig.SampleRateHertz = p.sampleRate

	data, err := json.Marshal(body)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("google: marshal request: %w", err)
	}
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("google: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", p.apiKey)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return tts.Speech{}, fmt.Errorf("google: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("google: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tts.Speech{}, fmt.Errorf("google: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tts.Speech{}, fmt.Errorf("google: decode response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("google: decode audio: %w", err)
	}
	// LINEAR16 responses carry a WAV header.
	pcm, f, err := audio.DecodeWAV(raw)
	if err != nil {
		pcm, f = raw, audio.Format{SampleRate: p.sampleRate, Channels: 1}
	}
	if len(pcm) == 0 {
		return tts.Speech{}, tts.ErrEmptyAudio
	}
	return tts.Speech{PCM: pcm, Format: f}, nil
}

// languageCode derives "en-US" from "en-US-Neural2-J". Without a voice the
// bare language is used.
func languageCode(voice, lang string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return lang
}
