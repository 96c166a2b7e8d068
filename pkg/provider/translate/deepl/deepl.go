// Package deepl provides a translation provider backed by the DeepL REST API
// (v2). Free-tier keys (suffix ":fx") are routed to api-free.deepl.com.
package deepl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/babelcast/pkg/provider/translate"
)

const (
	proEndpoint    = "https://api.deepl.com/v2/translate"
	freeEndpoint   = "https://api-free.deepl.com/v2/translate"
	defaultTimeout = 5 * time.Second
)

var _ translate.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithEndpoint overrides the translate endpoint URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithTimeout sets the HTTP client timeout. Defaults to 5 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithLanguages restricts the targets the provider claims to support.
func WithLanguages(codes ...string) Option {
	return func(p *Provider) { p.langs = translate.NewLanguages(codes...) }
}

// Provider implements [translate.Provider] against DeepL.
type Provider struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	langs      translate.Languages
}

// New creates a DeepL provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepl: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   proEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	if strings.HasSuffix(apiKey, ":fx") {
		p.endpoint = freeEndpoint
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements [translate.Provider].
func (p *Provider) Name() string { return "deepl" }

// Supports implements [translate.Provider].
func (p *Provider) Supports(target string) bool { return p.langs.Supports(target) }

// Translate implements [translate.Provider].
func (p *Provider) Translate(ctx context.Context, text, source, target string) (string, error) {
	if !p.Supports(target) {
		return "", translate.ErrUnsupported
	}
	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", langCode(target))
	if source != "" {
		form.Set("source_lang", langCode(source))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("deepl: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepl: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("deepl: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result struct {
		Translations []struct {
			DetectedSourceLanguage string `json:"detected_source_language"`
			Text                   string `json:"text"`
		} `json:"translations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("deepl: parse JSON response: %w", err)
	}
	if len(result.Translations) == 0 || strings.TrimSpace(result.Translations[0].Text) == "" {
		return "", fmt.Errorf("deepl: %w", translate.ErrEmptyResult)
	}
	return result.Translations[0].Text, nil
}

// langCode maps a tag to DeepL's upper-case language code.
func langCode(tag string) string {
	return strings.ToUpper(translate.BaseLang(tag))
}
