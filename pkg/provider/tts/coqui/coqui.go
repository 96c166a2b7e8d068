// Package coqui provides synthesizers backed by Coqui TTS servers.
//
// Two servers are supported:
//
//   - [Provider] targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu) through GET /api/tts. It is a generic
//     synthesizer with stock speakers.
//
//   - [XTTS] targets the XTTS v2 streaming server. POST /clone_speaker turns
//     a reference WAV into speaker latents, which are the voice embedding;
//     POST /tts speaks text with those latents. Stock studio speakers from
//     GET /studio_speakers make it usable as a generic synthesizer too.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	speech, err := p.Synthesize(ctx, tts.Request{Text: "Hello.", Lang: "en"})
package coqui

import (
	"bytes"
	"context"
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
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second

	apiTTSEndpoint = "/api/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option shared by [Provider] and [XTTS].
type Option func(*options)

type options struct {
	language   string
	outputRate int
	httpClient *http.Client
}

// WithLanguage sets the language used when a request carries none.
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(o *options) { o.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.httpClient.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithOutputSampleRate resamples synthesized audio to rate (e.g. 48000 for
// Discord). Zero keeps the model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(o *options) { o.outputRate = rate }
}

func newOptions(opts []Option) options {
	o := options{
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func (o options) lang(requested string) string {
	if requested != "" {
		return requested
	}
	return o.language
}

// Provider implements [tts.Provider] against a standard Coqui TTS server.
type Provider struct {
	serverURL string
	opts      options
}

// New creates a Provider for the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	return &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		opts:      newOptions(opts),
	}, nil
}

// Synthesize speaks req.Text. req.Voice selects a speaker on multi-speaker
// models.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	params := url.Values{}
	params.Set("text", req.Text)
	if req.Voice != "" {
		params.Set("speaker_id", req.Voice)
	}
	if lang := p.opts.lang(req.Lang); lang != "" {
		params.Set("language_id", lang)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.opts.httpClient.Do(httpReq)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: GET %s: %w", apiTTSEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Speech{}, fmt.Errorf("coqui: GET %s returned status %d", apiTTSEndpoint, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return p.opts.decode(wav)
}

// decode strips the WAV container and applies the output rate.
func (o options) decode(wav []byte) (tts.Speech, error) {
	pcm, f, err := audio.DecodeWAV(wav)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: %w", err)
	}
	if len(pcm) == 0 {
		return tts.Speech{}, tts.ErrEmptyAudio
	}
	if o.outputRate > 0 && f.SampleRate != o.outputRate {
		to := audio.Format{SampleRate: o.outputRate, Channels: f.Channels}
		pcm = audio.ConvertPCM(pcm, f, to)
		f = to
	}
	return tts.Speech{PCM: pcm, Format: f}, nil
}

// postJSON is shared by the XTTS endpoints.
func postJSON(ctx context.Context, c *http.Client, endpoint string, body []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data[:min(len(data), 256)])))
	}
	return data, nil
}
