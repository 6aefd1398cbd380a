// Command mcpgate is the main entry point for the mcpgate MCP gateway.
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

	"github.com/mcpgate/mcpgate/internal/app"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/observe"
)

// shutdownTimeout bounds graceful teardown after the run loop returns.
const shutdownTimeout = 15 * time.Second

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
			fmt.Fprintf(os.Stderr, "mcpgate: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mcpgate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("mcpgate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry providers ───────────────────────────────────────────────────
	providerCfg := observe.ProviderConfig{
		ServiceName:    cfg.Gateway.Name,
		ServiceVersion: cfg.Gateway.Version,
	}
	if cfg.Observe.OTLPEndpoint != "" {
		exporter, err := observe.NewOTLPTraceExporter(ctx, cfg.Observe.OTLPEndpoint, cfg.Observe.OTLPInsecure)
		if err != nil {
			slog.Error("failed to create OTLP trace exporter", "err", err)
			return 1
		}
		providerCfg.TraceExporter = exporter
		slog.Info("span export enabled", "endpoint", cfg.Observe.OTLPEndpoint)
	}
	otelShutdown, err := observe.InitProvider(ctx, providerCfg)
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         mcpgate — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Backends        : %-19d ║\n", len(cfg.Gateway.Servers))
	fmt.Printf("║  Routing rules   : %-19d ║\n", len(cfg.Gateway.Routing))
	fmt.Printf("║  Middleware      : %-19d ║\n", len(cfg.Gateway.Middleware))
	if cfg.Analytics.Enabled {
		exporter := cfg.Analytics.Exporter
		if exporter == "" {
			exporter = config.ExporterConsole
		}
		fmt.Printf("║  Analytics       : %-19s ║\n", string(exporter))
	} else {
		fmt.Printf("║  Analytics       : %-19s ║\n", "(disabled)")
	}
	if cfg.Observe.OTLPEndpoint != "" {
		fmt.Printf("║  Span export     : %-19s ║\n", trim(cfg.Observe.OTLPEndpoint))
	} else {
		fmt.Printf("║  Span export     : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.TLS != nil {
		fmt.Printf("║  TLS             : %-19s ║\n", "enabled")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", trim(cfg.Server.ListenAddr))
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func trim(value string) string {
	if len(value) > 19 {
		return value[:16] + "…"
	}
	return value
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
