// Command verbatimd is the main entry point for the Verbatim correction server.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/verbatimhq/verbatim/internal/app"
	"github.com/verbatimhq/verbatim/internal/config"
	"github.com/verbatimhq/verbatim/internal/observe"
	"github.com/verbatimhq/verbatim/internal/resilience"
	"github.com/verbatimhq/verbatim/pkg/provider/corrector"
	"github.com/verbatimhq/verbatim/pkg/provider/corrector/anyllm"
	openaicorr "github.com/verbatimhq/verbatim/pkg/provider/corrector/openai"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "verbatimd: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "verbatimd: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("verbatimd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "verbatim",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Corrector backends ────────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to build corrector", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
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
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// ── Corrector wiring ────────────────────────────────────────────────────────

// buildProviders instantiates the configured corrector backends. When a
// fallback is configured, the primary is wrapped in a circuit-breaking
// fallback chain; when no primary is configured, the AI tier stays disabled.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	ps := &app.Providers{}

	if cfg.Corrector.Primary.Name == "" {
		slog.Info("no corrector configured — dictionary tier only")
		return ps, nil
	}

	primary, err := newCorrector(cfg.Corrector.Primary, cfg.Corrector.Timeout)
	if err != nil {
		return nil, fmt.Errorf("create primary corrector %q: %w", cfg.Corrector.Primary.Name, err)
	}
	slog.Info("corrector created", "role", "primary", "name", cfg.Corrector.Primary.Name, "model", cfg.Corrector.Primary.Model)

	if cfg.Corrector.Fallback == nil {
		ps.Corrector = primary
		return ps, nil
	}

	fallback, err := newCorrector(*cfg.Corrector.Fallback, cfg.Corrector.Timeout)
	if err != nil {
		return nil, fmt.Errorf("create fallback corrector %q: %w", cfg.Corrector.Fallback.Name, err)
	}
	slog.Info("corrector created", "role", "fallback", "name", cfg.Corrector.Fallback.Name, "model", cfg.Corrector.Fallback.Model)

	chain := resilience.NewCorrectorFallback(primary, resilience.BreakerSettings{})
	chain.AddFallback(fallback)
	ps.Corrector = chain
	return ps, nil
}

// newCorrector constructs one backend from its config entry. The "openai"
// backend uses the native OpenAI client; every other name goes through the
// any-llm multi-provider bridge.
func newCorrector(entry config.ProviderEntry, timeout time.Duration) (corrector.Provider, error) {
	if entry.Name == "openai" {
		var opts []openaicorr.Option
		if entry.BaseURL != "" {
			opts = append(opts, openaicorr.WithBaseURL(entry.BaseURL))
		}
		if timeout > 0 {
			opts = append(opts, openaicorr.WithTimeout(timeout))
		}
		return openaicorr.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Verbatim — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printBackend("Primary", cfg.Corrector.Primary.Name, cfg.Corrector.Primary.Model)
	if cfg.Corrector.Fallback != nil {
		printBackend("Fallback", cfg.Corrector.Fallback.Name, cfg.Corrector.Fallback.Model)
	} else {
		printBackend("Fallback", "", "")
	}
	if cfg.Postgres.DSN != "" {
		fmt.Printf("║  Storage         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Storage         : %-19s ║\n", "in-memory")
	}
	fmt.Printf("║  Seed files      : %-19d ║\n", len(cfg.Dictionary.SeedFiles))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printBackend(role, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", role, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
