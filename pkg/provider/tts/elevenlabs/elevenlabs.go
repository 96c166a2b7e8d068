// Package elevenlabs provides a synthesizer backed by the ElevenLabs
// streaming WebSocket API and instant voice cloning.
//
// Each Synthesize call opens one stream-input session, sends the whole text
// followed by the flush message and collects audio until ElevenLabs reports
// the final chunk. Encode uploads a reference sample to /v1/voices/add; the
// returned voice ID is the embedding, so SynthesizeClone is a regular
// synthesis with that voice.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelcast/pkg/audio"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
)

const (
	defaultWSBaseURL   = "wss://api.elevenlabs.io"
	defaultHTTPBaseURL = "https://api.elevenlabs.io"
	defaultModel       = "eleven_flash_v2_5"
	defaultOutputFmt   = "pcm_16000"
)

var (
	_ tts.Provider = (*Provider)(nil)
	_ tts.Cloner   = (*Provider)(nil)
	_ tts.Encoder  = (*Provider)(nil)
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithOutputFormat sets the PCM output format ("pcm_16000", "pcm_24000", ...).
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithDefaultVoice sets the voice used when a request names none.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) { p.defaultVoice = voiceID }
}

// WithBaseURLs overrides the WebSocket and REST base URLs, for tests.
func WithBaseURLs(wsBase, httpBase string) Option {
	return func(p *Provider) {
		p.wsBase = strings.TrimRight(wsBase, "/")
		p.httpBase = strings.TrimRight(httpBase, "/")
	}
}

// WithHTTPClient replaces the HTTP client used for voice cloning.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements [tts.Provider], [tts.Cloner] and [tts.Encoder].
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	defaultVoice string
	wsBase       string
	httpBase     string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsBase:       defaultWSBaseURL,
		httpBase:     defaultHTTPBaseURL,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// textMessage is the JSON payload sent for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is a server message on the stream.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize speaks req.Text with req.Voice, or the default voice.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	voice := req.Voice
	if voice == "" {
		voice = p.defaultVoice
	}
	return p.stream(ctx, req.Text, voice)
}

// SynthesizeClone speaks text with the voice ID held in embedding.
func (p *Provider) SynthesizeClone(ctx context.Context, text, _ string, embedding []byte) (tts.Speech, error) {
	return p.stream(ctx, text, string(embedding))
}

func (p *Provider) stream(ctx context.Context, text, voice string) (tts.Speech, error) {
	if voice == "" {
		return tts.Speech{}, errors.New("elevenlabs: voice ID must not be empty")
	}
	format, err := parseOutputFormat(p.outputFormat)
	if err != nil {
		return tts.Speech{}, err
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(voice), nil)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	msgs := []textMessage{
		// ElevenLabs requires a single space as the first text value.
		{Text: " ", VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}, XiAPIKey: p.apiKey},
		{Text: text + " "},
		{Text: ""},
	}
	for _, m := range msgs {
		data, _ := json.Marshal(m)
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return tts.Speech{}, fmt.Errorf("elevenlabs: write: %w", err)
		}
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(pcm) > 0 {
				break
			}
			return tts.Speech{}, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return tts.Speech{}, fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return tts.Speech{}, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	if len(pcm) == 0 {
		return tts.Speech{}, tts.ErrEmptyAudio
	}
	return tts.Speech{PCM: pcm, Format: format}, nil
}

func (p *Provider) streamURL(voice string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", p.wsBase, url.PathEscape(voice), q.Encode())
}

// parseOutputFormat maps "pcm_24000" to a mono 24 kHz format.
func parseOutputFormat(s string) (audio.Format, error) {
	rate, ok := strings.CutPrefix(s, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("elevenlabs: output format %q is not raw PCM", s)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return audio.Format{}, fmt.Errorf("elevenlabs: invalid output format %q", s)
	}
	return audio.Format{SampleRate: n, Channels: 1}, nil
}

// Encode creates an instant voice clone from wav and returns its voice ID as
// the embedding. ElevenLabs exposes no speaker vector.
func (p *Provider) Encode(ctx context.Context, wav []byte) (tts.Embedding, error) {
	if len(wav) == 0 {
		return tts.Embedding{}, errors.New("elevenlabs: reference sample is empty")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", "babelcast-clone"); err != nil {
		return tts.Embedding{}, fmt.Errorf("elevenlabs: write name field: %w", err)
	}
	fw, err := mw.CreateFormFile("files", "sample.wav")
	if err != nil {
		return tts.Embedding{}, fmt.Errorf("elevenlabs: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return tts.Embedding{}, fmt.Errorf("elevenlabs: write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return tts.Embedding{}, fmt.Errorf("elevenlabs: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.httpBase+"/v1/voices/add", &body)
	if err != nil {
		return tts.Embedding{}, fmt.Errorf("elevenlabs: create clone request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("xi-api-key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return tts.Embedding{}, fmt.Errorf("elevenlabs: clone voice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tts.Embedding{}, fmt.Errorf("elevenlabs: clone voice: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return tts.Embedding{}, fmt.Errorf("elevenlabs: decode clone response: %w", err)
	}
	if out.VoiceID == "" {
		return tts.Embedding{}, errors.New("elevenlabs: clone response missing voice_id")
	}
	return tts.Embedding{Data: []byte(out.VoiceID)}, nil
}
