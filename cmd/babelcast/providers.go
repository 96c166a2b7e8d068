package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/babelcast/internal/config"
	"github.com/MrWong99/babelcast/internal/discord"
	"github.com/MrWong99/babelcast/pkg/audio"
	discordaudio "github.com/MrWong99/babelcast/pkg/audio/discord"
	"github.com/MrWong99/babelcast/pkg/audio/synthetic"
	"github.com/MrWong99/babelcast/pkg/audio/udp"
	"github.com/MrWong99/babelcast/pkg/audio/wavfile"
	"github.com/MrWong99/babelcast/pkg/provider/llm"
	"github.com/MrWong99/babelcast/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/babelcast/pkg/provider/llm/openai"
	"github.com/MrWong99/babelcast/pkg/provider/stt"
	"github.com/MrWong99/babelcast/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/babelcast/pkg/provider/stt/openai"
	"github.com/MrWong99/babelcast/pkg/provider/stt/whisper"
	"github.com/MrWong99/babelcast/pkg/provider/translate"
	"github.com/MrWong99/babelcast/pkg/provider/translate/deepl"
	"github.com/MrWong99/babelcast/pkg/provider/translate/libre"
	"github.com/MrWong99/babelcast/pkg/provider/translate/llmtranslate"
	"github.com/MrWong99/babelcast/pkg/provider/translate/microsoft"
	"github.com/MrWong99/babelcast/pkg/provider/tts"
	"github.com/MrWong99/babelcast/pkg/provider/tts/coqui"
	"github.com/MrWong99/babelcast/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/babelcast/pkg/provider/tts/google"
	"github.com/MrWong99/babelcast/pkg/publish"
	discordpub "github.com/MrWong99/babelcast/pkg/publish/discord"
	"github.com/MrWong99/babelcast/pkg/publish/logpub"
	"github.com/MrWong99/babelcast/pkg/publish/redispub"
	"github.com/MrWong99/babelcast/pkg/publish/wsroom"
)

// anyllmTranslators are the LLM translators served through any-llm-go. They
// share the same pattern: optional APIKey + optional BaseURL.
var anyllmTranslators = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "ollama", "llamacpp", "llamafile"}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Discord factories share bot sessions through sessions.
func registerBuiltinProviders(reg *config.Registry, sessions *discord.Sessions) {
	registerAudio(reg, sessions)
	registerRecognizers(reg)
	registerTranslators(reg)
	registerSynthesizers(reg)
	registerPublishers(reg, sessions)

	for kind, names := range reg.Names() {
		slog.Debug("registered providers", "kind", kind, "names", names)
	}
}

// ── Audio ─────────────────────────────────────────────────────────────────────

func registerAudio(reg *config.Registry, sessions *discord.Sessions) {
	reg.RegisterAudio("synthetic", func(entry config.ProviderEntry) (audio.Source, error) {
		opts := []synthetic.Option{synthetic.WithRealtime(true)}
		if seed := optInt(entry.Options, "seed"); seed > 0 {
			opts = append(opts, synthetic.WithSeed(uint64(seed)))
		}
		return synthetic.New(opts...), nil
	})

	reg.RegisterAudio("udp", func(entry config.ProviderEntry) (audio.Source, error) {
		addr := optString(entry.Options, "addr")
		if addr == "" {
			addr = entry.BaseURL
		}
		if addr == "" {
			return nil, errors.New("udp: options.addr is required")
		}
		var opts []udp.Option
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			channels := max(optInt(entry.Options, "channels"), 1)
			opts = append(opts, udp.WithFormat(audio.Format{SampleRate: rate, Channels: channels}))
		}
		return udp.New(addr, opts...), nil
	})

	reg.RegisterAudio("wav", func(entry config.ProviderEntry) (audio.Source, error) {
		path := optString(entry.Options, "path")
		if path == "" {
			return nil, errors.New("wav: options.path is required")
		}
		return wavfile.New(path,
			wavfile.WithLoop(optBool(entry.Options, "loop")),
			wavfile.WithRealtime(true),
		), nil
	})

	reg.RegisterAudio("discord", func(entry config.ProviderEntry) (audio.Source, error) {
		token := entry.APIKey
		if token == "" {
			token = optString(entry.Options, "bot_token")
		}
		session, err := sessions.Get(token)
		if err != nil {
			return nil, err
		}
		var opts []discordaudio.Option
		if user := optString(entry.Options, "user_id"); user != "" {
			opts = append(opts, discordaudio.WithUserID(user))
		}
		return discordaudio.NewSource(session,
			optString(entry.Options, "guild_id"),
			optString(entry.Options, "channel_id"),
			opts...,
		), nil
	})
}

// ── Recognizers ───────────────────────────────────────────────────────────────

func registerRecognizers(reg *config.Registry) {
	reg.RegisterRecognizer("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(entry.Timeout))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterRecognizer("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, sttopenai.WithLanguage(lang))
		}
		if entry.Timeout > 0 {
			opts = append(opts, sttopenai.WithTimeout(entry.Timeout))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})
}

// ── Translators ───────────────────────────────────────────────────────────────

func registerTranslators(reg *config.Registry) {
	reg.RegisterTranslator("deepl", func(entry config.TranslatorEntry) (translate.Provider, error) {
		opts := []deepl.Option{deepl.WithLanguages(entry.Languages...)}
		if entry.BaseURL != "" {
			opts = append(opts, deepl.WithEndpoint(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, deepl.WithTimeout(entry.Timeout))
		}
		return deepl.New(entry.APIKey, opts...)
	})

	reg.RegisterTranslator("microsoft", func(entry config.TranslatorEntry) (translate.Provider, error) {
		opts := []microsoft.Option{microsoft.WithLanguages(entry.Languages...)}
		if region := optString(entry.Options, "region"); region != "" {
			opts = append(opts, microsoft.WithRegion(region))
		}
		if entry.BaseURL != "" {
			opts = append(opts, microsoft.WithEndpoint(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, microsoft.WithTimeout(entry.Timeout))
		}
		return microsoft.New(entry.APIKey, opts...)
	})

	reg.RegisterTranslator("libre", func(entry config.TranslatorEntry) (translate.Provider, error) {
		opts := []libre.Option{libre.WithLanguages(entry.Languages...)}
		if entry.APIKey != "" {
			opts = append(opts, libre.WithAPIKey(entry.APIKey))
		}
		if entry.Timeout > 0 {
			opts = append(opts, libre.WithTimeout(entry.Timeout))
		}
		return libre.New(entry.BaseURL, opts...), nil
	})

	reg.RegisterTranslator("openai", func(entry config.TranslatorEntry) (translate.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, llmopenai.WithTimeout(entry.Timeout))
		}
		model, err := llmopenai.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return newLLMTranslator(model, entry)
	})

	for _, providerName := range anyllmTranslators {
		reg.RegisterTranslator(providerName, func(entry config.TranslatorEntry) (translate.Provider, error) {
			var opts []anyllmlib.Option
			// ollama is a local server; it uses BaseURL for the address, not an API key.
			if entry.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			model, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return newLLMTranslator(model, entry)
		})
	}
}

func newLLMTranslator(model llm.Provider, entry config.TranslatorEntry) (translate.Provider, error) {
	opts := []llmtranslate.Option{
		llmtranslate.WithName(entry.Name),
		llmtranslate.WithLanguages(entry.Languages...),
	}
	if t, ok := optFloat(entry.Options, "temperature"); ok {
		opts = append(opts, llmtranslate.WithTemperature(t))
	}
	if n := optInt(entry.Options, "max_tokens"); n > 0 {
		opts = append(opts, llmtranslate.WithMaxTokens(n))
	}
	return llmtranslate.New(model, opts...)
}

// ── Synthesis ─────────────────────────────────────────────────────────────────

func registerSynthesizers(reg *config.Registry) {
	reg.RegisterSynthesizer("google", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []google.Option
		if voices := optStringMap(entry.Options, "voices"); len(voices) > 0 {
			opts = append(opts, google.WithVoices(voices))
		}
		if entry.BaseURL != "" {
			opts = append(opts, google.WithEndpoint(entry.BaseURL))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, google.WithSampleRate(rate))
		}
		if entry.Timeout > 0 {
			opts = append(opts, google.WithTimeout(entry.Timeout))
		}
		return google.New(entry.APIKey, opts...)
	})

	reg.RegisterSynthesizer("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		p, err := coqui.New(entry.BaseURL, coquiOptions(entry)...)
		if err != nil {
			return nil, err
		}
		return tts.WithVoices(p, optStringMap(entry.Options, "voices")), nil
	})

	reg.RegisterSynthesizer("xtts", func(entry config.ProviderEntry) (tts.Provider, error) {
		p, err := coqui.NewXTTS(entry.BaseURL, coquiOptions(entry)...)
		if err != nil {
			return nil, err
		}
		return tts.WithVoices(p, optStringMap(entry.Options, "voices")), nil
	})

	reg.RegisterSynthesizer("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		p, err := elevenlabs.New(entry.APIKey, elevenlabsOptions(entry)...)
		if err != nil {
			return nil, err
		}
		return tts.WithVoices(p, optStringMap(entry.Options, "voices")), nil
	})

	// ── Cloning ───────────────────────────────────────────────────────────────

	reg.RegisterCloner("xtts", func(entry config.ProviderEntry) (config.CloneBackend, error) {
		return coqui.NewXTTS(entry.BaseURL, coquiOptions(entry)...)
	})

	reg.RegisterCloner("elevenlabs", func(entry config.ProviderEntry) (config.CloneBackend, error) {
		return elevenlabs.New(entry.APIKey, elevenlabsOptions(entry)...)
	})
}

func coquiOptions(entry config.ProviderEntry) []coqui.Option {
	var opts []coqui.Option
	if lang := optString(entry.Options, "language"); lang != "" {
		opts = append(opts, coqui.WithLanguage(lang))
	}
	if entry.Timeout > 0 {
		opts = append(opts, coqui.WithTimeout(entry.Timeout))
	}
	if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
		opts = append(opts, coqui.WithOutputSampleRate(rate))
	}
	return opts
}

func elevenlabsOptions(entry config.ProviderEntry) []elevenlabs.Option {
	var opts []elevenlabs.Option
	if entry.Model != "" {
		opts = append(opts, elevenlabs.WithModel(entry.Model))
	}
	if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
		opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
	}
	if voice := optString(entry.Options, "default_voice"); voice != "" {
		opts = append(opts, elevenlabs.WithDefaultVoice(voice))
	}
	return opts
}

// ── Publishers ────────────────────────────────────────────────────────────────

func registerPublishers(reg *config.Registry, sessions *discord.Sessions) {
	reg.RegisterPublisher("log", func(context.Context, config.PublishConfig) (publish.Dialer, error) {
		return logpub.New(slog.Default()), nil
	})

	reg.RegisterPublisher("wsroom", func(_ context.Context, cfg config.PublishConfig) (publish.Dialer, error) {
		return wsroom.New(cfg.URL)
	})

	reg.RegisterPublisher("redis", func(ctx context.Context, cfg config.PublishConfig) (publish.Dialer, error) {
		var opts []redispub.Option
		if prefix := optString(cfg.Options, "prefix"); prefix != "" {
			opts = append(opts, redispub.WithPrefix(prefix))
		}
		if n := optInt(cfg.Options, "history"); n > 0 {
			opts = append(opts, redispub.WithHistory(int64(n)))
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return redispub.New(pingCtx, redispub.Config{
			Addr:     cfg.URL,
			Password: optString(cfg.Options, "password"),
			DB:       optInt(cfg.Options, "db"),
		}, opts...)
	})

	reg.RegisterPublisher("discord", func(_ context.Context, cfg config.PublishConfig) (publish.Dialer, error) {
		session, err := sessions.Get(optString(cfg.Options, "bot_token"))
		if err != nil {
			return nil, err
		}
		guild := optString(cfg.Options, "guild_id")
		channels := make(map[string]discordpub.Channel, len(cfg.Languages))
		for lang, opts := range cfg.Languages {
			ch := discordpub.Channel{
				Session:        session,
				GuildID:        guild,
				VoiceChannelID: optString(opts, "voice_channel_id"),
				TextChannelID:  optString(opts, "text_channel_id"),
			}
			if ch.VoiceChannelID == "" && ch.TextChannelID == "" {
				return nil, fmt.Errorf("discord: publish.languages.%s needs voice_channel_id or text_channel_id", lang)
			}
			channels[lang] = ch
		}
		return discordpub.New(channels), nil
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt accepts the integer and float forms YAML decoding produces.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func optBool(opts map[string]any, key string) bool {
	b, _ := opts[key].(bool)
	return b
}

// optStringMap extracts a nested string map such as per-language voices.
func optStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
