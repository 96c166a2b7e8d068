package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio":      {"synthetic", "udp", "wav", "discord"},
	"recognizer": {"whisper", "whisper-native", "deepgram", "openai"},
	"translator": {"deepl", "microsoft", "libre", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":        {"google", "coqui", "xtts", "elevenlabs"},
	"clone":      {"xtts", "elevenlabs"},
	"publish":    {"wsroom", "redis", "discord", "log"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.SourceLanguage == "" {
		errs = append(errs, errors.New("pipeline.source_language is required"))
	}
	seen := make(map[string]int, len(p.TargetLanguages))
	for i, lang := range p.TargetLanguages {
		switch {
		case lang == "":
			errs = append(errs, fmt.Errorf("pipeline.target_languages[%d] is empty", i))
		case lang == p.SourceLanguage:
			errs = append(errs, fmt.Errorf("pipeline.target_languages[%d] %q equals the source language", i, lang))
		default:
			if prev, ok := seen[lang]; ok {
				errs = append(errs, fmt.Errorf("pipeline.target_languages[%d] %q is a duplicate of target_languages[%d]", i, lang, prev))
			}
			seen[lang] = i
		}
	}
	for name, v := range map[string]int{
		"frame_queue":     p.FrameQueue,
		"utterance_queue": p.UtteranceQueue,
		"max_in_flight":   p.MaxInFlight,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("pipeline.%s %d must not be negative", name, v))
		}
	}

	// Segmenter
	s := cfg.Segmenter
	if s.MinLen > 0 && s.MaxLen > 0 && s.MaxLen < s.MinLen {
		errs = append(errs, fmt.Errorf("segmenter.max_len %s is shorter than min_len %s", s.MaxLen, s.MinLen))
	}
	if s.SilenceThreshold < 0 || s.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("segmenter.silence_threshold %.3f is out of range [0, 1)", s.SilenceThreshold))
	}

	// Providers
	validateProviderName("audio", cfg.Audio.Name)
	validateProviderName("recognizer", cfg.Recognizer.Name)
	for i, r := range cfg.RecognizerFallbacks {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("recognizer_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("recognizer", r.Name)
	}
	for i, tr := range cfg.Translation.Providers {
		if tr.Name == "" {
			errs = append(errs, fmt.Errorf("translation.providers[%d].name is required", i))
			continue
		}
		validateProviderName("translator", tr.Name)
		if tr.RateLimitRPS < 0 {
			errs = append(errs, fmt.Errorf("translation.providers[%d].rate_limit_rps must not be negative", i))
		}
	}
	if len(cfg.Translation.Providers) == 0 {
		slog.Warn("no translation providers configured; listeners will receive the source text")
	}
	if cb := cfg.Translation.CircuitBreaker; cb.Enabled && cb.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("translation.circuit_breaker.max_failures %d must not be negative", cb.MaxFailures))
	}

	validateProviderName("clone", cfg.Synthesis.Clone.Name)
	for i, sy := range cfg.Synthesis.Providers {
		if sy.Name == "" {
			errs = append(errs, fmt.Errorf("synthesis.providers[%d].name is required", i))
			continue
		}
		validateProviderName("tts", sy.Name)
	}

	// Voices
	v := cfg.Voices
	if v.Repository != "" && !v.Repository.IsValid() {
		errs = append(errs, fmt.Errorf("voices.repository %q is invalid; valid values: memory, postgres", v.Repository))
	}
	if v.Repository == RepositoryPostgres && v.PostgresDSN == "" {
		errs = append(errs, errors.New("voices.postgres_dsn is required when repository is postgres"))
	}
	if v.VectorDimensions < 0 {
		errs = append(errs, fmt.Errorf("voices.vector_dimensions %d must not be negative", v.VectorDimensions))
	}
	if len(v.Active) > 0 && cfg.Synthesis.Clone.Name == "" {
		slog.Warn("voices.active is set but synthesis.clone is not configured; generic voices will be used")
	}

	// Publish
	validateProviderName("publish", cfg.Publish.Name)
	if (cfg.Publish.Name == "wsroom" || cfg.Publish.Name == "redis") && cfg.Publish.URL == "" {
		errs = append(errs, fmt.Errorf("publish.url is required for publisher %q", cfg.Publish.Name))
	}

	// Auth
	if (cfg.Auth.APIKey == "") != (cfg.Auth.APISecret == "") {
		errs = append(errs, errors.New("auth.api_key and auth.api_secret must be set together"))
	}
	if cfg.Auth.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl %s must not be negative", cfg.Auth.TokenTTL))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
