// Package libre provides a translation provider backed by a LibreTranslate
// server. Public instances need no key; self-hosted ones may require one.
package libre

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

const (
	// DefaultEndpoint is the public instance used when none is configured.
	DefaultEndpoint = "https://libretranslate.de"

	// DefaultTimeout is longer than the commercial providers because public
	// instances are slow under load.
	DefaultTimeout = 10 * time.Second
)

var _ translate.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithAPIKey sets the api_key field sent with every request.
func WithAPIKey(key string) Option {
	return func(p *Provider) { p.apiKey = key }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithTimeout sets the HTTP client timeout. Defaults to [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithLanguages restricts the targets the provider claims to support.
func WithLanguages(codes ...string) Option {
	return func(p *Provider) { p.langs = translate.NewLanguages(codes...) }
}

// Provider implements [translate.Provider] against LibreTranslate.
type Provider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	langs      translate.Languages
}

// New creates a LibreTranslate provider for the server at endpoint. An empty
// endpoint selects [DefaultEndpoint].
func New(endpoint string, opts ...Option) *Provider {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	p := &Provider{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name implements [translate.Provider].
func (p *Provider) Name() string { return "libre" }

// Supports implements [translate.Provider].
func (p *Provider) Supports(target string) bool { return p.langs.Supports(target) }

type request struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

// Translate implements [translate.Provider].
func (p *Provider) Translate(ctx context.Context, text, source, target string) (string, error) {
	if !p.Supports(target) {
		return "", translate.ErrUnsupported
	}
	src := translate.BaseLang(source)
	if src == "" {
		src = "auto"
	}
	body, err := json.Marshal(request{
		Q:      text,
		Source: src,
		Target: translate.BaseLang(target),
		Format: "text",
		APIKey: p.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("libre: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("libre: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("libre: http request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		TranslatedText string `json:"translatedText"`
		Error          string `json:"error"`
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if json.Unmarshal(msg, &result) == nil && result.Error != "" {
			return "", fmt.Errorf("libre: server returned HTTP %d: %s", resp.StatusCode, result.Error)
		}
		return "", fmt.Errorf("libre: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("libre: parse JSON response: %w", err)
	}
	if strings.TrimSpace(result.TranslatedText) == "" {
		return "", errors.Join(errors.New("libre: no translatedText"), translate.ErrEmptyResult)
	}
	return result.TranslatedText, nil
}
