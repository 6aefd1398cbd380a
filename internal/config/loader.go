package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcpgate/mcpgate/internal/routing"
)

// Defaults applied by [Validate] when the corresponding field is unset.
const (
	DefaultGatewayName    = "mcp-proxy"
	DefaultGatewayVersion = "1.0.0"
	DefaultListenAddr     = ":8080"
	DefaultSampleRate     = 1.0
	DefaultFlushInterval  = 5 * time.Second
	DefaultMaxBufferSize  = 10000
	DefaultToolWindowSize = 2048
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fills in defaults and checks that cfg contains a coherent set of
// values. It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Gateway identity
	if cfg.Gateway.Name == "" {
		cfg.Gateway.Name = DefaultGatewayName
	}
	if cfg.Gateway.Version == "" {
		cfg.Gateway.Version = DefaultGatewayVersion
	}

	// Backends
	for name, backend := range cfg.Gateway.Servers {
		prefix := fmt.Sprintf("gateway.servers[%s]", name)
		if name == "" {
			errs = append(errs, errors.New("gateway.servers contains an entry with an empty name"))
		}
		switch {
		case backend.IsHTTP() && backend.IsStdio():
			errs = append(errs, fmt.Errorf("%s: url and command are mutually exclusive", prefix))
		case !backend.IsHTTP() && !backend.IsStdio():
			errs = append(errs, fmt.Errorf("%s: one of url or command is required", prefix))
		}
		if backend.IsStdio() && len(backend.Headers) > 0 {
			errs = append(errs, fmt.Errorf("%s: headers are only valid for http backends", prefix))
		}
		if backend.IsHTTP() && (len(backend.Args) > 0 || len(backend.Env) > 0) {
			errs = append(errs, fmt.Errorf("%s: args and env are only valid for stdio backends", prefix))
		}
	}

	// Routing rules must compile and point at declared backends.
	for i, rule := range cfg.Gateway.Routing {
		prefix := fmt.Sprintf("gateway.routing[%d]", i)
		if rule.Pattern == "" {
			errs = append(errs, fmt.Errorf("%s.pattern is required", prefix))
		} else if _, err := routing.CompileGlob(rule.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if rule.Server == "" {
			errs = append(errs, fmt.Errorf("%s.server is required", prefix))
		} else if _, ok := cfg.Gateway.Servers[rule.Server]; !ok {
			errs = append(errs, fmt.Errorf("%s.server %q is not a declared backend", prefix, rule.Server))
		}
	}

	// Middleware entries are tagged variants: exactly one field set.
	for i, mw := range cfg.Gateway.Middleware {
		prefix := fmt.Sprintf("gateway.middleware[%d]", i)
		set := 0
		if mw.Filter != nil {
			set++
		}
		if mw.Cache != nil {
			set++
			if mw.Cache.Store != "" && mw.Cache.Store != "memory" && mw.Cache.Store != "redis" {
				errs = append(errs, fmt.Errorf("%s.cache.store %q is invalid; valid values: memory, redis", prefix, mw.Cache.Store))
			}
			if mw.Cache.Store == "redis" && cfg.Redis.Addr == "" {
				errs = append(errs, fmt.Errorf("%s.cache: store redis requires redis.addr", prefix))
			}
		}
		if mw.Breaker != nil {
			set++
		}
		if set != 1 {
			errs = append(errs, fmt.Errorf("%s: exactly one of filter, cache, breaker must be set", prefix))
		}
	}

	// Analytics
	if cfg.Analytics.Exporter == "" {
		cfg.Analytics.Exporter = ExporterConsole
	} else if !cfg.Analytics.Exporter.IsValid() {
		errs = append(errs, fmt.Errorf("analytics.exporter %q is invalid; valid values: console, json, otlp", cfg.Analytics.Exporter))
	}
	if cfg.Analytics.Exporter == ExporterJSON && cfg.Analytics.Enabled && cfg.Analytics.JSONPath == "" {
		errs = append(errs, errors.New("analytics.json_path is required for the json exporter"))
	}
	if cfg.Analytics.SampleRate == nil {
		rate := DefaultSampleRate
		cfg.Analytics.SampleRate = &rate
	} else if *cfg.Analytics.SampleRate < 0 || *cfg.Analytics.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("analytics.sample_rate %v is out of range [0, 1]", *cfg.Analytics.SampleRate))
	}
	if cfg.Analytics.SamplingStrategy == "" {
		cfg.Analytics.SamplingStrategy = SamplePerCall
	} else if !cfg.Analytics.SamplingStrategy.IsValid() {
		errs = append(errs, fmt.Errorf("analytics.sampling_strategy %q is invalid; valid values: per_call, per_session", cfg.Analytics.SamplingStrategy))
	}
	if cfg.Analytics.FlushInterval == nil {
		interval := DefaultFlushInterval
		cfg.Analytics.FlushInterval = &interval
	} else if *cfg.Analytics.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("analytics.flush_interval %v must not be negative", *cfg.Analytics.FlushInterval))
	}
	if cfg.Analytics.MaxBufferSize == 0 {
		cfg.Analytics.MaxBufferSize = DefaultMaxBufferSize
	} else if cfg.Analytics.MaxBufferSize < 0 {
		errs = append(errs, fmt.Errorf("analytics.max_buffer_size %d must not be negative", cfg.Analytics.MaxBufferSize))
	}
	if cfg.Analytics.ToolWindowSize == 0 {
		cfg.Analytics.ToolWindowSize = DefaultToolWindowSize
	} else if cfg.Analytics.ToolWindowSize < 1 {
		errs = append(errs, fmt.Errorf("analytics.tool_window_size %d must be at least 1", cfg.Analytics.ToolWindowSize))
	}

	return errors.Join(errs...)
}
