package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/alekitto/zephir-go/internal/adapter/outbound/memory"
	"github.com/alekitto/zephir-go/internal/adapter/outbound/script"
	"github.com/alekitto/zephir-go/internal/domain/policy"
)

// TestMain verifies that starting and shutting down the HTTP transport
// leaves no goroutine behind — in particular the listener goroutine
// Start spawns internally, which only a clean Shutdown should retire.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHandler(t *testing.T) *DecisionHandler {
	t.Helper()
	store := memory.NewPolicyStore()
	cache := memory.NewCompiledPolicyCache()
	compiler := policy.NewPolicyCompiler(cache, slog.Default())
	scripts := script.NewEvaluator(50 * time.Millisecond)
	return NewDecisionHandler(store, compiler, cache, scripts, nil, nil, slog.Default())
}

// startTestServer wires the real Routes() onto a fresh mux and serves it
// with httptest.NewServer on a loopback listener, exercising the routes
// without building HTTPTransport's middleware chain and Prometheus
// registry per case.
func startTestServer(t *testing.T, handler *DecisionHandler) (baseURL string, cleanup func()) {
	t.Helper()
	mux := http.NewServeMux()
	handler.Routes(mux)
	server := httptest.NewServer(mux)
	return server.URL, server.Close
}

func TestRoutes_AllowedEndpointDeniesUnknownSubject(t *testing.T) {
	handler := newTestHandler(t)
	baseURL, cleanup := startTestServer(t, handler)
	defer cleanup()

	body, _ := json.Marshal(map[string]any{"subject": "alice", "action": "read"})
	resp, err := http.Post(baseURL+"/allowed", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("POST /allowed for unknown subject status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestRoutes_AllowedEndpointRejectsMalformedBody(t *testing.T) {
	handler := newTestHandler(t)
	baseURL, cleanup := startTestServer(t, handler)
	defer cleanup()

	resp, err := http.Post(baseURL+"/allowed", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /allowed with malformed body status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestRoutes_PolicyCRUDRoundTrip(t *testing.T) {
	handler := newTestHandler(t)
	baseURL, cleanup := startTestServer(t, handler)
	defer cleanup()

	body, _ := json.Marshal(map[string]any{
		"id":        "p-1",
		"effect":    "ALLOW",
		"actions":   []string{"read"},
		"resources": []string{"doc:.*"},
	})
	resp, err := http.Post(baseURL+"/policies", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /policies status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	getResp, err := http.Get(baseURL + "/policy/p-1")
	if err != nil {
		t.Fatal(err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Errorf("GET /policy/p-1 status = %d, want %d", getResp.StatusCode, http.StatusOK)
	}
}

func TestRoutes_GetPolicyNotFound(t *testing.T) {
	handler := newTestHandler(t)
	baseURL, cleanup := startTestServer(t, handler)
	defer cleanup()

	resp, err := http.Get(baseURL + "/policy/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /policy/does-not-exist status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

// TestTransport_StartAndShutdown is an integration test against the real
// Start(): it binds a real listener, then cancels the context and
// verifies Start returns cleanly rather than leaving the listener
// goroutine running.
func TestTransport_StartAndShutdown(t *testing.T) {
	handler := newTestHandler(t)
	transport := NewHTTPTransport(handler,
		WithAddr("127.0.0.1:0"),
		WithLogger(slog.Default()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- transport.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return within 5 seconds after cancel")
	}
}
