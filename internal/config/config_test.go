package config_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/babelcast/internal/config"
	"github.com/MrWong99/babelcast/pkg/audio"
	audiomock "github.com/MrWong99/babelcast/pkg/audio/mock"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	sttmock "github.com/MrWong99/babelcast/pkg/provider/stt/mock"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
	translatemock "github.com/MrWong99/babelcast/pkg/provider/translate/mock"
	"github.com/MrWong99/babelcast/pkg/publish"
	publishmock "github.com/MrWong99/babelcast/pkg/publish/mock"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  public_url: "https://live.example.com"
pipeline:
  source_language: zh
  target_languages: [en, vi, ko]
  frame_queue: 128
  utterance_queue: 4
  max_in_flight: 2
  capture_push_timeout: 20ms
  shutdown_grace: 3s
segmenter:
  min_len: 1s
  max_len: 8s
  idle_gap: 2s
  silence_threshold: 0.02
audio:
  name: udp
  options:
    addr: ":5004"
recognizer:
  name: whisper
  base_url: "http://localhost:8178"
  timeout: 20s
translation:
  attempt_delay: 250ms
  probe: true
  circuit_breaker:
    enabled: true
    max_failures: 3
    reset_timeout: 30s
  providers:
    - name: deepl
      api_key: "key:fx"
      timeout: 5s
      rate_limit_rps: 10
    - name: microsoft
      api_key: "ms-key"
      languages: [en, vi, ko]
      options:
        region: eastasia
synthesis:
  clone:
    name: xtts
    base_url: "http://localhost:8020"
  providers:
    - name: google
      api_key: "g-key"
  default_voices:
    en: en-US-Neural2-J
  timeout: 15s
voices:
  repository: postgres
  postgres_dsn: "postgres://localhost/babelcast"
  sample_dir: /var/lib/babelcast/samples
  active:
    en: alice
publish:
  name: wsroom
  room: sermon
  url: "http://localhost:8080"
  timeout: 2s
auth:
  api_key: devkey
  api_secret: devsecret
  token_ttl: 12h
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
	}
	if got := cfg.Pipeline.TargetLanguages; !slices.Equal(got, []string{"en", "vi", "ko"}) {
		t.Errorf("target_languages = %v", got)
	}
	if cfg.Pipeline.CapturePushTimeout != 20*time.Millisecond {
		t.Errorf("capture_push_timeout = %v, want 20ms", cfg.Pipeline.CapturePushTimeout)
	}
	if cfg.Segmenter.IdleGap != 2*time.Second {
		t.Errorf("idle_gap = %v, want 2s", cfg.Segmenter.IdleGap)
	}
	if cfg.Recognizer.Timeout != 20*time.Second {
		t.Errorf("recognizer.timeout = %v, want 20s", cfg.Recognizer.Timeout)
	}
	if n := len(cfg.Translation.Providers); n != 2 {
		t.Fatalf("translation providers = %d, want 2", n)
	}
	deepl := cfg.Translation.Providers[0]
	if deepl.Name != "deepl" || deepl.APIKey != "key:fx" || deepl.RateLimitRPS != 10 || deepl.Timeout != 5*time.Second {
		t.Errorf("deepl entry = %+v", deepl)
	}
	ms := cfg.Translation.Providers[1]
	if ms.Options["region"] != "eastasia" {
		t.Errorf("microsoft region = %v, want eastasia", ms.Options["region"])
	}
	if !cfg.Translation.CircuitBreaker.Enabled || cfg.Translation.CircuitBreaker.MaxFailures != 3 {
		t.Errorf("circuit_breaker = %+v", cfg.Translation.CircuitBreaker)
	}
	if cfg.Synthesis.DefaultVoices["en"] != "en-US-Neural2-J" {
		t.Errorf("default_voices = %v", cfg.Synthesis.DefaultVoices)
	}
	if cfg.Voices.Repository != config.RepositoryPostgres || cfg.Voices.Active["en"] != "alice" {
		t.Errorf("voices = %+v", cfg.Voices)
	}
	if cfg.Auth.TokenTTL != 12*time.Hour {
		t.Errorf("token_ttl = %v, want 12h", cfg.Auth.TokenTTL)
	}
}

func TestLoadFromReader_EmptyGetsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Pipeline.SourceLanguage != "zh" {
		t.Errorf("source_language = %q, want zh", cfg.Pipeline.SourceLanguage)
	}
	if !slices.Equal(cfg.Pipeline.TargetLanguages, config.DefaultTargetLanguages) {
		t.Errorf("target_languages = %v, want %v", cfg.Pipeline.TargetLanguages, config.DefaultTargetLanguages)
	}
	if cfg.Voices.Repository != config.RepositoryMemory {
		t.Errorf("repository = %q, want memory", cfg.Voices.Repository)
	}
	if cfg.Publish.Name != "log" || cfg.Publish.Room != config.DefaultRoom {
		t.Errorf("publish = %+v", cfg.Publish)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(t.TempDir() + "/nope.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if len(cfg.Translation.Providers) != 4 {
		t.Errorf("translators = %d, want 4", len(cfg.Translation.Providers))
	}
	if len(cfg.RecognizerFallbacks) != 1 || cfg.RecognizerFallbacks[0].Name != "openai" {
		t.Errorf("recognizer_fallbacks = %+v", cfg.RecognizerFallbacks)
	}
	if cfg.Voices.Active["en"] != "alice" {
		t.Errorf("voices.active = %v", cfg.Voices.Active)
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	checks := []struct {
		kind string
		call func() error
	}{
		{"audio", func() error { _, err := reg.CreateAudio(config.ProviderEntry{Name: "x"}); return err }},
		{"recognizer", func() error { _, err := reg.CreateRecognizer(config.ProviderEntry{Name: "x"}); return err }},
		{"translator", func() error {
			_, err := reg.CreateTranslator(config.TranslatorEntry{ProviderEntry: config.ProviderEntry{Name: "x"}})
			return err
		}},
		{"synthesizer", func() error { _, err := reg.CreateSynthesizer(config.ProviderEntry{Name: "x"}); return err }},
		{"cloner", func() error { _, err := reg.CreateCloner(config.ProviderEntry{Name: "x"}); return err }},
		{"publisher", func() error {
			_, err := reg.CreatePublisher(context.Background(), config.PublishConfig{Name: "x"})
			return err
		}},
	}
	for _, c := range checks {
		t.Run(c.kind, func(t *testing.T) {
			if err := c.call(); !errors.Is(err, config.ErrProviderNotRegistered) {
				t.Errorf("err = %v, want ErrProviderNotRegistered", err)
			}
		})
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	var gotEntry config.TranslatorEntry
	reg.RegisterTranslator("deepl", func(e config.TranslatorEntry) (translate.Provider, error) {
		gotEntry = e
		return &translatemock.Provider{ProviderName: "deepl"}, nil
	})
	reg.RegisterRecognizer("whisper", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{}, nil
	})
	reg.RegisterAudio("synthetic", func(config.ProviderEntry) (audio.Source, error) {
		return &audiomock.Source{}, nil
	})
	reg.RegisterPublisher("log", func(_ context.Context, cfg config.PublishConfig) (publish.Dialer, error) {
		return &publishmock.Dialer{}, nil
	})

	entry := config.TranslatorEntry{
		ProviderEntry: config.ProviderEntry{Name: "deepl", APIKey: "k"},
		Languages:     []string{"en"},
	}
	p, err := reg.CreateTranslator(entry)
	if err != nil {
		t.Fatalf("CreateTranslator: %v", err)
	}
	if p.Name() != "deepl" {
		t.Errorf("Name() = %q, want deepl", p.Name())
	}
	if gotEntry.APIKey != "k" || !slices.Equal(gotEntry.Languages, []string{"en"}) {
		t.Errorf("factory got %+v", gotEntry)
	}
	if _, err := reg.CreateRecognizer(config.ProviderEntry{Name: "whisper"}); err != nil {
		t.Errorf("CreateRecognizer: %v", err)
	}
	if _, err := reg.CreatePublisher(context.Background(), config.PublishConfig{Name: "log"}); err != nil {
		t.Errorf("CreatePublisher: %v", err)
	}

	names := reg.Names()
	if !slices.Equal(names["translator"], []string{"deepl"}) {
		t.Errorf("translator names = %v", names["translator"])
	}
	if !slices.Equal(names["audio"], []string{"synthetic"}) {
		t.Errorf("audio names = %v", names["audio"])
	}
	if len(names["cloner"]) != 0 {
		t.Errorf("cloner names = %v, want none", names["cloner"])
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("bad api key")
	reg.RegisterRecognizer("deepgram", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, boom
	})

	_, err := reg.CreateRecognizer(config.ProviderEntry{Name: "deepgram"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped factory error", err)
	}
	if errors.Is(err, config.ErrProviderNotRegistered) {
		t.Error("factory error must not look like a missing registration")
	}
}
