// Package deepgram provides a recognizer backed by the Deepgram live
// transcription WebSocket API.
//
// Each Transcribe call opens a short-lived stream, writes the utterance in
// 100 ms chunks, sends CloseStream and collects final results until Deepgram
// closes the socket. Going through the live endpoint keeps latency at the
// level of a streaming session while still fitting the batch contract.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/babelcast/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-2"
	defaultLanguage  = "zh"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-2", "whisper-large").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket endpoint, for tests and self-hosted
// deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements [stt.Provider] against Deepgram.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams req to Deepgram and returns the joined final transcripts.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.PCM) == 0 {
		return "", nil
	}
	wsURL, err := p.buildURL(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	chunk := req.Format.Bytes(100 * time.Millisecond)
	if chunk <= 0 {
		chunk = 3200
	}
	for off := 0; off < len(req.PCM); off += chunk {
		end := min(off+chunk, len(req.PCM))
		if err := conn.Write(ctx, websocket.MessageBinary, req.PCM[off:end]); err != nil {
			return "", fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("deepgram: %w", ctx.Err())
			}
			// Deepgram sometimes drops the socket without a close frame once
			// the stream is done; keep what was already collected.
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || len(parts) > 0 {
				break
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		if text, final, ok := parseResult(msg); ok && final && text != "" {
			parts = append(parts, text)
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return strings.Join(parts, " "), nil
}

func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	channels := max(req.Format.Channels, 1)

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(req.Format.SampleRate))
	q.Set("channels", strconv.Itoa(channels))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// result is the subset of a Deepgram "Results" message we read.
type result struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseResult extracts the top alternative from a Results message. ok is
// false for other message types (Metadata, UtteranceEnd, SpeechStarted).
func parseResult(data []byte) (text string, final bool, ok bool) {
	var r result
	if err := json.Unmarshal(data, &r); err != nil || r.Type != "Results" {
		return "", false, false
	}
	if len(r.Channel.Alternatives) == 0 {
		return "", r.IsFinal, true
	}
	return strings.TrimSpace(r.Channel.Alternatives[0].Transcript), r.IsFinal, true
}
