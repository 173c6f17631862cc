package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testApp(t *testing.T, cfg Config) *App {
	t.Helper()
	a, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func newTestMux(t *testing.T, cfg Config) *http.ServeMux {
	t.Helper()
	a := testApp(t, cfg)
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws)
	return mux
}

func TestNewDefaultsToMemoryRepository(t *testing.T) {
	a := testApp(t, Config{})
	if a.dbEnabled {
		t.Fatal("no database url: db must be disabled")
	}
	if a.repo == nil {
		t.Fatal("repository must be wired")
	}
	if a.ws == nil || a.broker == nil {
		t.Fatal("gateway and broker must be wired")
	}
}

func TestNewRejectsBrokenSecurityPolicy(t *testing.T) {
	_, err := New(Config{RequireAccessKey: true}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("required access key without a hash must fail startup")
	}
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t, Config{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestReadyzWithoutDB(t *testing.T) {
	// Default: ready without a database.
	mux := newTestMux(t, Config{})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	// Strict mode: not ready until a database is configured.
	mux = newTestMux(t, Config{ReadinessRequireDB: true})
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := newTestMux(t, Config{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatal("metrics output missing standard collectors")
	}
}
