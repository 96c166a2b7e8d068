// Package microsoft provides a translation provider backed by Azure AI
// Translator (Text Translation v3.0).
package microsoft

import (
	"bytes"
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
	defaultEndpoint = "https://api.cognitive.microsofttranslator.com"
	defaultRegion   = "eastasia"
	defaultTimeout  = 5 * time.Second
)

var _ translate.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithRegion sets the Ocp-Apim-Subscription-Region header. Defaults to
// "eastasia".
func WithRegion(region string) Option {
	return func(p *Provider) { p.region = region }
}

// WithEndpoint overrides the service base URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = strings.TrimRight(endpoint, "/") }
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

// Provider implements [translate.Provider] against Azure AI Translator.
type Provider struct {
	key        string
	region     string
	endpoint   string
	httpClient *http.Client
	langs      translate.Languages
}

// New creates a Microsoft Translator provider for subscription key.
func New(key string, opts ...Option) (*Provider, error) {
	if key == "" {
		return nil, errors.New("microsoft: subscription key must not be empty")
	}
	p := &Provider{
		key:        key,
		region:     defaultRegion,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements [translate.Provider].
func (p *Provider) Name() string { return "microsoft" }

// Supports implements [translate.Provider].
func (p *Provider) Supports(target string) bool { return p.langs.Supports(target) }

// Translate implements [translate.Provider].
func (p *Provider) Translate(ctx context.Context, text, source, target string) (string, error) {
	if !p.Supports(target) {
		return "", translate.ErrUnsupported
	}
	q := url.Values{}
	q.Set("api-version", "3.0")
	q.Set("to", langCode(target))
	if source != "" {
		q.Set("from", langCode(source))
	}

	body, err := json.Marshal([]map[string]string{{"Text": text}})
	if err != nil {
		return "", fmt.Errorf("microsoft: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/translate?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("microsoft: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", p.key)
	if p.region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", p.region)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("microsoft: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("microsoft: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result []struct {
		Translations []struct {
			Text string `json:"text"`
			To   string `json:"to"`
		} `json:"translations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("microsoft: parse JSON response: %w", err)
	}
	if len(result) == 0 || len(result[0].Translations) == 0 || strings.TrimSpace(result[0].Translations[0].Text) == "" {
		return "", fmt.Errorf("microsoft: %w", translate.ErrEmptyResult)
	}
	return result[0].Translations[0].Text, nil
}

// langCode maps a tag to the Translator language code. Chinese needs an
// explicit script.
func langCode(tag string) string {
	switch strings.ToLower(tag) {
	case "zh", "zh-cn", "zh-sg", "zh-hans":
		return "zh-Hans"
	case "zh-tw", "zh-hk", "zh-hant":
		return "zh-Hant"
	}
	return translate.BaseLang(tag)
}
