package robots

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func TestGateAllowAndDeny(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	g := NewGate(true, testLogger)
	ctx := context.Background()

	if !g.IsAllowed(ctx, srv.URL+"/public/page") {
		t.Error("expected public path allowed")
	}
	if g.IsAllowed(ctx, srv.URL+"/private/page") {
		t.Error("expected private path denied")
	}
}

func TestGateDisabledAllowsEverything(t *testing.T) {
	g := NewGate(false, testLogger)
	if !g.IsAllowed(context.Background(), "http://anywhere/at/all") {
		t.Error("disabled gate must allow all")
	}
}

func TestGateFetchFailureAllowsAll(t *testing.T) {
	// Unreachable host: connection refused must mean allow-all.
	g := NewGate(true, testLogger)
	if !g.IsAllowed(context.Background(), "http://127.0.0.1:1/anything") {
		t.Error("expected allow-all on robots fetch failure")
	}
}

func TestGateMissingRobotsAllowsAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	g := NewGate(true, testLogger)
	if !g.IsAllowed(context.Background(), srv.URL+"/any") {
		t.Error("expected 404 robots.txt to allow all")
	}
}

func TestGateCachesPerHost(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
			w.Write([]byte("User-agent: *\nDisallow:\n"))
		}
	}))
	defer srv.Close()

	g := NewGate(true, testLogger)
	ctx := context.Background()
	g.Prefetch(ctx, srv.URL+"/")
	for i := 0; i < 5; i++ {
		g.IsAllowed(ctx, srv.URL+"/page")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("robots.txt fetched %d times, want 1", got)
	}
}
