// Package app wires all mcpgate subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the middleware chain,
// the analytics collector, the gateway, and the HTTP listener; Run connects
// the backends and serves until the context ends; Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithCacheStore,
// WithExporter). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgate/mcpgate/internal/analytics"
	"github.com/mcpgate/mcpgate/internal/cache"
	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/gateway"
	"github.com/mcpgate/mcpgate/internal/health"
	"github.com/mcpgate/mcpgate/internal/intercept"
	"github.com/mcpgate/mcpgate/internal/middleware"
	"github.com/mcpgate/mcpgate/internal/resilience"
	"github.com/mcpgate/mcpgate/internal/server"
	"github.com/mcpgate/mcpgate/pkg/export"
)

// defaultFlushInterval is used when analytics.flush_interval is unset.
const defaultFlushInterval = 5 * time.Second

// App owns all subsystem lifetimes and orchestrates the gateway process.
type App struct {
	cfg *config.Config

	// Subsystems, initialised in New and torn down in Shutdown.
	store     cache.Store
	exporter  analytics.Exporter
	collector *analytics.Collector
	mws       []middleware.Middleware
	gateway   *gateway.Gateway
	listener  *server.Listener

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCacheStore injects a cache store for every cache middleware instead of
// building one from config.
func WithCacheStore(s cache.Store) Option {
	return func(a *App) { a.store = s }
}

// WithExporter injects an analytics exporter instead of creating one through
// the registry.
func WithExporter(e analytics.Exporter) Option {
	return func(a *App) { a.exporter = e }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously except backend connection,
// which Run owns: configuration errors surface here, network errors there.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Middleware chain ──────────────────────────────────────────────
	if err := a.initMiddlewares(); err != nil {
		return nil, fmt.Errorf("app: init middlewares: %w", err)
	}

	// ── 2. Analytics collector ───────────────────────────────────────────
	if err := a.initAnalytics(); err != nil {
		return nil, fmt.Errorf("app: init analytics: %w", err)
	}

	// ── 3. Gateway ───────────────────────────────────────────────────────
	if err := a.initGateway(); err != nil {
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 4. HTTP listener ─────────────────────────────────────────────────
	a.initListener()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initMiddlewares builds the interception chain in config order.
func (a *App) initMiddlewares() error {
	for i, mc := range a.cfg.Gateway.Middleware {
		switch {
		case mc.Filter != nil:
			mw, err := middleware.NewFilter(middleware.FilterConfig{
				Allow: mc.Filter.Allow,
				Deny:  mc.Filter.Deny,
			})
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			a.mws = append(a.mws, mw)

		case mc.Cache != nil:
			store, err := a.cacheStore(mc.Cache)
			if err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
			a.mws = append(a.mws, middleware.NewCache(middleware.CacheConfig{
				TTL:     mc.Cache.TTL,
				Store:   store,
				MaxSize: mc.Cache.MaxSize,
			}))

		case mc.Breaker != nil:
			cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
				Name:         fmt.Sprintf("gateway-middleware-%d", i),
				MaxFailures:  mc.Breaker.MaxFailures,
				ResetTimeout: mc.Breaker.ResetTimeout,
			})
			a.mws = append(a.mws, middleware.NewBreaker(cb))

		default:
			return fmt.Errorf("entry %d: no middleware kind set", i)
		}
	}
	return nil
}

// cacheStore resolves the store for one cache middleware entry. The redis
// store is shared across entries and closed on shutdown; nil selects the
// middleware's own in-memory store.
func (a *App) cacheStore(mc *config.CacheConfig) (cache.Store, error) {
	if mc.Store != "redis" {
		return a.store, nil
	}
	if a.store != nil {
		return a.store, nil
	}
	if a.cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("cache store %q requires redis.addr", mc.Store)
	}

	rs := cache.NewRedisStore(a.cfg.Redis.Addr)
	a.store = rs
	a.closers = append(a.closers, func(context.Context) error {
		return rs.Close()
	})
	return rs, nil
}

// initAnalytics creates the exporter and collector when analytics is enabled.
func (a *App) initAnalytics() error {
	ac := a.cfg.Analytics
	if !ac.Enabled {
		return nil
	}

	if a.exporter == nil {
		kind := ac.Exporter
		if kind == "" {
			kind = config.ExporterConsole
		}
		exporter, err := export.NewRegistry().Create(kind, export.Options{
			JSONPath: ac.JSONPath,
			Metadata: ac.Metadata,
		})
		if err != nil {
			return err
		}
		a.exporter = exporter
		if closer, ok := exporter.(io.Closer); ok {
			a.closers = append(a.closers, func(context.Context) error {
				return closer.Close()
			})
		}
	}

	interval := defaultFlushInterval
	if ac.FlushInterval != nil {
		interval = *ac.FlushInterval
	}
	a.collector = analytics.NewCollector(analytics.CollectorConfig{
		Exporter:       a.exporter,
		FlushInterval:  interval,
		MaxBufferSize:  ac.MaxBufferSize,
		ToolWindowSize: ac.ToolWindowSize,
	})
	a.closers = append(a.closers, a.collector.Destroy)
	return nil
}

// initGateway builds the gateway, layering call interception onto backend
// transports when analytics is enabled.
func (a *App) initGateway() error {
	var opts []gateway.Option
	if a.collector != nil {
		rate := 1.0
		if a.cfg.Analytics.SampleRate != nil {
			rate = *a.cfg.Analytics.SampleRate
		}
		interceptCfg := intercept.Config{
			Recorder:   a.collector,
			SampleRate: rate,
			Strategy:   a.cfg.Analytics.SamplingStrategy,
			Tracing:    a.cfg.Analytics.Tracing,
			Metadata:   a.cfg.Analytics.Metadata,
		}
		if err := interceptCfg.Validate(); err != nil {
			return err
		}
		opts = append(opts, gateway.WithTransportWrapper(func(t mcp.Transport) mcp.Transport {
			return intercept.NewTransport(t, interceptCfg)
		}))
	}

	gw, err := gateway.New(a.cfg.Gateway, a.mws, opts...)
	if err != nil {
		return err
	}
	a.gateway = gw
	a.closers = append(a.closers, func(context.Context) error {
		return gw.Close()
	})
	return nil
}

// initListener builds the HTTP listener with one readiness check per backend.
func (a *App) initListener() {
	var checkers []health.Checker
	for name := range a.cfg.Gateway.Servers {
		checkers = append(checkers, health.BackendChecker(name, a.backendConnected(name)))
	}
	a.listener = server.New(a.cfg.Server, a.gateway.NewServer, checkers...)
}

// backendConnected returns a probe into the named backend's live state.
func (a *App) backendConnected(name string) func() bool {
	return func() bool {
		for _, b := range a.gateway.Backends() {
			if b.Name == name {
				return b.Connected
			}
		}
		return false
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Gateway exposes the gateway core, for tests and the admin surface.
func (a *App) Gateway() *gateway.Gateway { return a.gateway }

// Collector exposes the analytics collector. Nil when analytics is disabled.
func (a *App) Collector() *analytics.Collector { return a.collector }

// Listener exposes the HTTP listener, for tests that serve ephemeral ports.
func (a *App) Listener() *server.Listener { return a.listener }

// Run connects every backend, then serves HTTP until ctx is cancelled or the
// listener fails. On cancellation Run returns ctx's error; shutting the
// listener down is Shutdown's job.
func (a *App) Run(ctx context.Context) error {
	if err := a.gateway.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect backends: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.listener.ListenAndServe()
	}()

	slog.Info("gateway running",
		"addr", a.cfg.Server.ListenAddr,
		"backends", len(a.cfg.Gateway.Servers),
		"analytics", a.collector != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the listener, then tears down the remaining subsystems in
// init order. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.listener.Shutdown(ctx); err != nil {
			slog.Warn("listener shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
