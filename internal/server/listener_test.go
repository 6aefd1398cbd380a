package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpgate/mcpgate/internal/config"
)

func newTestListener() *Listener {
	return New(config.ServerConfig{ListenAddr: ":0"}, func() *mcp.Server {
		return mcp.NewServer(&mcp.Implementation{Name: "test", Version: "0.0.1"}, nil)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not JSON: %v (%q)", err, rec.Body.String())
	}
	return body["error"]
}

func TestPostBodyTooLarge(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	body := bytes.Repeat([]byte("a"), maxBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if got := decodeError(t, rec); got != "Request body too large" {
		t.Errorf("error = %q", got)
	}
}

func TestPostInvalidJSON(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeError(t, rec); got != "Invalid JSON body" {
		t.Errorf("error = %q", got)
	}
}

func TestGetWithoutSession(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	for _, withHeader := range []bool{false, true} {
		req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
		if withHeader {
			req.Header.Set(sessionHeader, "no-such-session")
		}
		rec := httptest.NewRecorder()
		l.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400 (header=%v)", rec.Code, withHeader)
		}
		if got := decodeError(t, rec); got != "No session found" {
			t.Errorf("error = %q", got)
		}
	}
}

func TestDeleteWithoutSession(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set(sessionHeader, "no-such-session")
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q", body["status"])
	}
}

func TestHealthzEndpoint(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestUnknownPath(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// TestUnsupportedMCPMethod verifies /mcp answers 404 for methods outside
// POST, GET, and DELETE instead of forwarding them to the transport.
func TestUnsupportedMCPMethod(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	for _, method := range []string{http.MethodPut, http.MethodPatch, http.MethodOptions} {
		req := httptest.NewRequest(method, "/mcp", nil)
		rec := httptest.NewRecorder()
		l.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s /mcp status = %d, want 404", method, rec.Code)
		}
		if got := decodeError(t, rec); got != "Not found" {
			t.Errorf("%s /mcp error = %q", method, got)
		}
	}
}

func TestPanicRecovery(t *testing.T) {
	t.Parallel()

	l := New(config.ServerConfig{ListenAddr: ":0"}, func() *mcp.Server {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeError(t, rec); got != "Internal server error" {
		t.Errorf("error = %q", got)
	}
}

// fakeSession stands in for an SDK session whose transport can end
// server-side.
type fakeSession struct {
	id   string
	done chan struct{}
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Wait() error {
	<-s.done
	return nil
}

func (s *fakeSession) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}

// TestTransportCloseDropsSession verifies that a session ending without a
// client DELETE is removed from tracking once its Wait returns.
func TestTransportCloseDropsSession(t *testing.T) {
	t.Parallel()
	l := newTestListener()

	ss := &fakeSession{id: "s1", done: make(chan struct{})}
	l.trackSession(ss)
	if l.SessionCount() != 1 {
		t.Fatalf("SessionCount = %d after track, want 1", l.SessionCount())
	}

	// Terminate the transport server-side.
	_ = ss.Close()

	deadline := time.Now().Add(2 * time.Second)
	for l.SessionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session still tracked after its transport ended")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The dead id must no longer pass session validation.
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set(sessionHeader, "s1")
	rec := httptest.NewRecorder()
	l.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("GET with dead session status = %d, want 400", rec.Code)
	}
}

// TestSessionLifecycle drives a real SDK client against the listener and
// verifies session tracking from connect to close and shutdown.
func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	l := newTestListener()
	ts := httptest.NewServer(l.Handler())
	defer ts.Close()

	ctx := context.Background()
	client := mcp.NewClient(&mcp.Implementation{Name: "lifecycle-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}, nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if _, err := session.ListTools(ctx, nil); err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if l.SessionCount() != 1 {
		t.Errorf("SessionCount = %d after connect, want 1", l.SessionCount())
	}

	if err := session.Close(); err != nil {
		t.Fatalf("session.Close: %v", err)
	}
	if l.SessionCount() != 0 {
		t.Errorf("SessionCount = %d after close, want 0", l.SessionCount())
	}

	if err := l.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
