// Package server exposes the gateway over streamable HTTP. It owns the
// /mcp endpoint, per-session MCP server instances, health and readiness
// probes, and the Prometheus scrape endpoint.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/health"
	"github.com/mcpgate/mcpgate/internal/observe"
)

// maxBodyBytes bounds POST /mcp request bodies.
const maxBodyBytes = 4 << 20

// sessionHeader is the MCP session id header, canonical form.
const sessionHeader = "Mcp-Session-Id"

// serverSession is the surface of [*mcp.ServerSession] the listener tracks.
// Narrowed to an interface so tests can stand in for SDK sessions.
type serverSession interface {
	ID() string
	Wait() error
	Close() error
}

// Listener serves the gateway's HTTP surface. One MCP server instance exists
// per active session, created lazily by the initializing POST and destroyed
// on client DELETE, transport close, or [Listener.Shutdown].
type Listener struct {
	cfg        config.ServerConfig
	newServer  func() *mcp.Server
	streamable http.Handler
	httpSrv    *http.Server

	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]serverSession
}

// New builds a Listener. newServer is called once per new session to produce
// that session's MCP server; checkers feed the /readyz probe.
func New(cfg config.ServerConfig, newServer func() *mcp.Server, checkers ...health.Checker) *Listener {
	l := &Listener{
		cfg:       cfg,
		newServer: newServer,
		metrics:   observe.DefaultMetrics(),
		sessions:  make(map[string]serverSession),
	}
	l.streamable = mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return l.sessionServer() },
		&mcp.StreamableHTTPOptions{},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", l.serveMCP)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	l.httpSrv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: recoverPanics(observe.Middleware(l.metrics)(mux)),
	}
	return l
}

// Handler returns the listener's root HTTP handler. Exposed for tests.
func (l *Listener) Handler() http.Handler {
	return l.httpSrv.Handler
}

// ListenAndServe blocks serving HTTP (or HTTPS when TLS is configured) until
// Shutdown or a fatal listener error. [http.ErrServerClosed] is not treated
// as a failure.
func (l *Listener) ListenAndServe() error {
	var err error
	if l.cfg.TLS != nil {
		err = l.httpSrv.ListenAndServeTLS(l.cfg.TLS.CertFile, l.cfg.TLS.KeyFile)
	} else {
		err = l.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve serves on an existing listener. Exposed for tests that need an
// ephemeral port.
func (l *Listener) Serve(ln net.Listener) error {
	err := l.httpSrv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes every live session, and drains
// in-flight requests until ctx expires.
func (l *Listener) Shutdown(ctx context.Context) error {
	err := l.httpSrv.Shutdown(ctx)

	l.mu.Lock()
	sessions := l.sessions
	l.sessions = make(map[string]serverSession)
	l.mu.Unlock()

	for id, ss := range sessions {
		if cerr := ss.Close(); cerr != nil {
			slog.Warn("closing session failed", "session", id, "error", cerr)
		}
		l.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	return err
}

// SessionCount returns the number of live sessions.
func (l *Listener) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

// sessionServer builds the MCP server for one new session and instruments it
// so the listener learns the session handle on its first request.
func (l *Listener) sessionServer() *mcp.Server {
	srv := l.newServer()
	srv.AddReceivingMiddleware(func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if ss, ok := req.GetSession().(*mcp.ServerSession); ok {
				l.trackSession(ss)
			}
			return next(ctx, method, req)
		}
	})
	return srv
}

func (l *Listener) trackSession(ss serverSession) {
	id := ss.ID()
	if id == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[id]; !ok {
		l.sessions[id] = ss
		l.metrics.ActiveSessions.Add(context.Background(), 1)
		slog.Debug("session started", "session", id)

		// Reap the entry when the session ends without a client DELETE,
		// e.g. the SDK terminating the transport.
		go func() {
			_ = ss.Wait()
			l.dropSession(id)
		}()
	}
}

func (l *Listener) dropSession(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[id]; ok {
		delete(l.sessions, id)
		l.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

func (l *Listener) hasSession(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.sessions[id]
	return ok
}

// serveMCP dispatches the three /mcp methods.
func (l *Listener) serveMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		l.handlePost(w, r)
	case http.MethodGet:
		l.handleGet(w, r)
	case http.MethodDelete:
		l.handleDelete(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

// handlePost validates the body, then hands the request to the streamable
// transport. An unknown session id is treated as a new session rather than
// an error.
func (l *Listener) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))

	if sid := r.Header.Get(sessionHeader); sid != "" && !l.hasSession(sid) {
		r.Header.Del(sessionHeader)
	}

	l.streamable.ServeHTTP(w, r)
}

// handleGet opens the session's streaming channel. Requires a live session.
func (l *Listener) handleGet(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(sessionHeader)
	if sid == "" || !l.hasSession(sid) {
		writeError(w, http.StatusBadRequest, "No session found")
		return
	}
	l.streamable.ServeHTTP(w, r)
}

// handleDelete terminates the session. Requires a live session.
func (l *Listener) handleDelete(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get(sessionHeader)
	if sid == "" || !l.hasSession(sid) {
		writeError(w, http.StatusBadRequest, "No session found")
		return
	}
	l.streamable.ServeHTTP(w, r)
	l.dropSession(sid)
	slog.Debug("session destroyed", "session", sid)
}

// recoverPanics converts handler panics into 500 responses so transport
// faults never kill the process.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("handler panic", "path", r.URL.Path, "panic", rec)
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
