// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the Babelcast translation server.
package config

import "time"

// LogLevel controls log verbosity for the Babelcast server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// VoiceRepository selects where voice profiles are persisted.
type VoiceRepository string

const (
	// RepositoryMemory keeps profiles in process memory only.
	RepositoryMemory VoiceRepository = "memory"

	// RepositoryPostgres stores profiles in PostgreSQL with pgvector.
	RepositoryPostgres VoiceRepository = "postgres"
)

// IsValid reports whether r is a recognised repository kind.
func (r VoiceRepository) IsValid() bool {
	return r == RepositoryMemory || r == RepositoryPostgres
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultSourceLanguage = "zh"
	DefaultRoom           = "babelcast"
	DefaultPublisher      = "log"
)

// DefaultTargetLanguages is used when pipeline.target_languages is empty.
var DefaultTargetLanguages = []string{"en", "vi", "ms", "th", "ko"}

// Config is the root configuration structure for Babelcast.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Audio       ProviderEntry     `yaml:"audio"`
	Recognizer  ProviderEntry     `yaml:"recognizer"`

	// RecognizerFallbacks are tried in order when Recognizer fails.
	RecognizerFallbacks []ProviderEntry `yaml:"recognizer_fallbacks"`

	Translation TranslationConfig `yaml:"translation"`
	Synthesis   SynthesisConfig   `yaml:"synthesis"`
	Voices      VoicesConfig      `yaml:"voices"`
	Publish     PublishConfig     `yaml:"publish"`
	Auth        AuthConfig        `yaml:"auth"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the HTTP API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// PublicURL is the address listeners use to reach this server. It is
	// reported by /connection-info. Defaults to the publish URL.
	PublicURL string `yaml:"public_url"`
}

// PipelineConfig tunes the streaming pipeline.
type PipelineConfig struct {
	// SourceLanguage is the spoken language, e.g. "zh".
	SourceLanguage string `yaml:"source_language"`

	// TargetLanguages are translated and published in parallel.
	TargetLanguages []string `yaml:"target_languages"`

	FrameQueue         int           `yaml:"frame_queue"`
	UtteranceQueue     int           `yaml:"utterance_queue"`
	MaxInFlight        int           `yaml:"max_in_flight"`
	CapturePushTimeout time.Duration `yaml:"capture_push_timeout"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace"`
}

// SegmenterConfig holds the utterance segmentation thresholds. Zero values
// fall back to the segmenter defaults.
type SegmenterConfig struct {
	MinLen           time.Duration `yaml:"min_len"`
	MaxLen           time.Duration `yaml:"max_len"`
	IdleGap          time.Duration `yaml:"idle_gap"`
	SilenceThreshold float64       `yaml:"silence_threshold"`
}

// ProviderEntry is the common configuration block for a single provider.
type ProviderEntry struct {
	// Name selects the implementation from the [Registry] (e.g., "deepl").
	Name string `yaml:"name"`

	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Timeout bounds one call. Zero uses the component default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// TranslatorEntry is one link of the translation provider chain.
type TranslatorEntry struct {
	ProviderEntry `yaml:",inline"`

	// RateLimitRPS paces calls to this provider across all languages. Zero
	// disables pacing.
	RateLimitRPS float64 `yaml:"rate_limit_rps"`

	// Languages restricts the targets the provider is asked for. Empty
	// means all.
	Languages []string `yaml:"languages"`
}

// CircuitBreakerConfig tunes the per-provider breakers.
type CircuitBreakerConfig struct {
	Enabled      bool          `yaml:"enabled"`
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TranslationConfig configures the ordered provider chain.
type TranslationConfig struct {
	// Providers are tried in order for every language.
	Providers []TranslatorEntry `yaml:"providers"`

	// AttemptDelay is the pause between two attempts for the same language.
	AttemptDelay time.Duration `yaml:"attempt_delay"`

	// Probe sends a short test translation to each provider at startup and
	// skips the ones that fail.
	Probe bool `yaml:"probe"`

	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// SynthesisConfig configures speech synthesis.
type SynthesisConfig struct {
	// Clone is the backend that encodes reference samples and speaks in the
	// cloned voice. Empty disables cloning.
	Clone ProviderEntry `yaml:"clone"`

	// Providers are generic synthesizers tried in order.
	Providers []ProviderEntry `yaml:"providers"`

	// DefaultVoices maps a language to the generic voice name.
	DefaultVoices map[string]string `yaml:"default_voices"`

	Timeout time.Duration `yaml:"timeout"`
}

// VoicesConfig configures the voice profile store.
type VoicesConfig struct {
	Repository VoiceRepository `yaml:"repository"`

	// PostgresDSN is required for the postgres repository.
	PostgresDSN string `yaml:"postgres_dsn"`

	// VectorDimensions is the size of speaker vectors. Defaults to 512.
	VectorDimensions int `yaml:"vector_dimensions"`

	// SampleDir receives uploaded reference samples.
	SampleDir string `yaml:"sample_dir"`

	// Active maps a language to its speaker. Hot-reloadable.
	Active map[string]string `yaml:"active"`

	// UploadRPS limits sample uploads per second. Zero means 1.
	UploadRPS float64 `yaml:"upload_rps"`
}

// PublishConfig selects the output transport.
type PublishConfig struct {
	// Name selects the dialer: wsroom, redis, discord or log.
	Name string `yaml:"name"`

	// Room is the logical room; each language uses the channel
	// "{room}-{lang}".
	Room string `yaml:"room"`

	// URL is the transport address (room server, Redis address).
	URL string `yaml:"url"`

	Timeout time.Duration `yaml:"timeout"`

	Options map[string]any `yaml:"options"`

	// Languages holds per-language transport settings, e.g. the Discord
	// channel IDs of a language.
	Languages map[string]map[string]any `yaml:"languages"`
}

// AuthConfig holds the credentials used to sign and verify room tokens. An
// empty key disables token authentication on the relay.
type AuthConfig struct {
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ApplyDefaults fills in unset fields that have a fixed default.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Pipeline.SourceLanguage == "" {
		cfg.Pipeline.SourceLanguage = DefaultSourceLanguage
	}
	if len(cfg.Pipeline.TargetLanguages) == 0 {
		cfg.Pipeline.TargetLanguages = append([]string(nil), DefaultTargetLanguages...)
	}
	if cfg.Voices.Repository == "" {
		cfg.Voices.Repository = RepositoryMemory
	}
	if cfg.Publish.Name == "" {
		cfg.Publish.Name = DefaultPublisher
	}
	if cfg.Publish.Room == "" {
		cfg.Publish.Room = DefaultRoom
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = cfg.Publish.URL
	}
}
