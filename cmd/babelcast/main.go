// Command babelcast is the main entry point for the Babelcast translation
// relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/babelcast/internal/app"
	"github.com/MrWong99/babelcast/internal/config"
	"github.com/MrWong99/babelcast/internal/discord"
	"github.com/MrWong99/babelcast/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload hot-reloadable settings when the config file changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "babelcast: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "babelcast: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("babelcast starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	sessions := discord.NewSessions()
	defer func() {
		if err := sessions.Close(); err != nil {
			slog.Warn("discord close error", "err", err)
		}
	}()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, sessions)

	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, func(d config.ConfigDiff, _ *config.Config) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(ctx, d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			go func() { _ = watcher.Run(ctx) }()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		_ = application.Shutdown(context.Background())
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Audio.Name; name != "" {
		p, err := reg.CreateAudio(cfg.Audio)
		if err != nil {
			return nil, err
		}
		ps.Audio = p
		slog.Info("provider created", "kind", "audio", "name", name)
	}

	if name := cfg.Recognizer.Name; name != "" {
		p, err := reg.CreateRecognizer(cfg.Recognizer)
		if err != nil {
			return nil, err
		}
		ps.Recognizer = p
		slog.Info("provider created", "kind", "recognizer", "name", name, "model", cfg.Recognizer.Model)
	}

	for _, entry := range cfg.RecognizerFallbacks {
		p, err := reg.CreateRecognizer(entry)
		if err != nil {
			return nil, err
		}
		ps.RecognizerFallbacks = append(ps.RecognizerFallbacks, app.Recognizer{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "recognizer_fallback", "name", entry.Name, "model", entry.Model)
	}

	for _, entry := range cfg.Translation.Providers {
		p, err := reg.CreateTranslator(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("translator not available, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, err
		}
		ps.Translators = append(ps.Translators, app.Translator{Entry: entry, Provider: p})
		slog.Info("provider created", "kind", "translator", "name", entry.Name, "model", entry.Model)
	}

	for _, entry := range cfg.Synthesis.Providers {
		p, err := reg.CreateSynthesizer(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("synthesizer not available, skipping", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, err
		}
		ps.Synthesizers = append(ps.Synthesizers, app.Synthesizer{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
	}

	if name := cfg.Synthesis.Clone.Name; name != "" {
		p, err := reg.CreateCloner(cfg.Synthesis.Clone)
		if err != nil {
			return nil, err
		}
		ps.Cloner = p
		slog.Info("provider created", "kind", "clone", "name", name)
	}

	d, err := reg.CreatePublisher(ctx, cfg.Publish)
	if err != nil {
		return nil, err
	}
	ps.Dialer = d
	slog.Info("provider created", "kind", "publish", "name", cfg.Publish.Name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Babelcast startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Audio", cfg.Audio.Name, "")
	printProvider("Recognizer", cfg.Recognizer.Name, cfg.Recognizer.Model)
	for _, r := range cfg.RecognizerFallbacks {
		printProvider("STT fallback", r.Name, r.Model)
	}
	for _, t := range cfg.Translation.Providers {
		printProvider("Translator", t.Name, t.Model)
	}
	for _, s := range cfg.Synthesis.Providers {
		printProvider("TTS", s.Name, s.Model)
	}
	printProvider("Clone", cfg.Synthesis.Clone.Name, cfg.Synthesis.Clone.Model)
	printProvider("Publisher", cfg.Publish.Name, "")
	fmt.Printf("║  Source lang     : %-19s ║\n", cfg.Pipeline.SourceLanguage)
	fmt.Printf("║  Target langs    : %-19d ║\n", len(cfg.Pipeline.TargetLanguages))
	fmt.Printf("║  Room            : %-19s ║\n", cfg.Publish.Room)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
