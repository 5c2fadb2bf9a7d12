package fetcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func fastBackoff(t *testing.T) {
	t.Helper()
	oldBase, oldLimit := backoffBase, backoffLimit
	backoffBase = 5 * time.Millisecond
	backoffLimit = 20 * time.Millisecond
	t.Cleanup(func() {
		backoffBase = oldBase
		backoffLimit = oldLimit
	})
}

func newTestFetcher(t *testing.T, cfg *config.JobConfig) *HTTPFetcher {
	t.Helper()
	f, err := NewHTTPFetcher(cfg, nil, testLogger)
	if err != nil {
		t.Fatalf("create fetcher: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DefaultJobConfig())
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if body != "<html>ok</html>" {
		t.Errorf("body = %q", body)
	}
}

func TestFetchRetryableStatus(t *testing.T) {
	for _, status := range []int{403, 429, 500, 502, 503, 504} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		f := newTestFetcher(t, config.DefaultJobConfig())
		_, err := f.Fetch(context.Background(), srv.URL)
		srv.Close()

		var fe *types.FetchError
		if !errors.As(err, &fe) {
			t.Fatalf("status %d: expected FetchError, got %v", status, err)
		}
		if !fe.Retryable {
			t.Errorf("status %d should be retryable", status)
		}
		if fe.StatusCode != status {
			t.Errorf("status code = %d, want %d", fe.StatusCode, status)
		}
	}
}

func TestFetchHardFailureReturnsEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DefaultJobConfig())
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("404 should be a soft failure, got %v", err)
	}
	if body != "" {
		t.Errorf("body = %q, want empty", body)
	}
}

func TestFetchSendsConfiguredHeaders(t *testing.T) {
	var gotHeader, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	cfg := config.DefaultJobConfig()
	cfg.Headers = map[string]string{"X-Custom": "yes"}
	f := newTestFetcher(t, cfg)
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotHeader != "yes" {
		t.Errorf("X-Custom = %q", gotHeader)
	}
	if gotUA == "" {
		t.Error("expected a user agent")
	}
}

func TestFetchRotatesUserAgents(t *testing.T) {
	var mu sync.Mutex
	agents := make(map[string]struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents[r.Header.Get("User-Agent")] = struct{}{}
		mu.Unlock()
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DefaultJobConfig())
	for i := 0; i < len(defaultUserAgents); i++ {
		if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
			t.Fatalf("fetch: %v", err)
		}
	}
	if len(agents) < 2 {
		t.Errorf("expected rotation across user agents, saw %d", len(agents))
	}
}

func TestFetchWithRetrySucceedsAfterTransientErrors(t *testing.T) {
	fastBackoff(t)

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("finally"))
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DefaultJobConfig())
	body, err := FetchWithRetry(context.Background(), f, srv.URL, testLogger)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if body != "finally" {
		t.Errorf("body = %q", body)
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
}

func TestFetchWithRetryGivesUpAfterThreeAttempts(t *testing.T) {
	fastBackoff(t)

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DefaultJobConfig())
	_, err := FetchWithRetry(context.Background(), f, srv.URL, testLogger)
	if err == nil {
		t.Fatal("expected terminal failure")
	}
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want exactly 3", attempts.Load())
	}
	var fe *types.FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("terminal error = %v", err)
	}
	if !errors.Is(err, types.ErrMaxRetries) {
		t.Errorf("terminal error should wrap ErrMaxRetries, got %v", err)
	}
}

func TestFetchWithRetryRetriesRequestTimeout(t *testing.T) {
	fastBackoff(t)

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	cfg := config.DefaultJobConfig()
	cfg.RequestTimeout = 0.05
	f := newTestFetcher(t, cfg)

	_, err := FetchWithRetry(context.Background(), f, srv.URL, testLogger)
	if err == nil {
		t.Fatal("expected timeout failure")
	}
	// The client timeout is a transient condition: all three attempts spend.
	if attempts.Load() != 3 {
		t.Errorf("attempts = %d, want 3", attempts.Load())
	}
	if !errors.Is(err, types.ErrMaxRetries) {
		t.Errorf("terminal error = %v", err)
	}
}

func TestFetchWithRetryStopsOnCallerDeadline(t *testing.T) {
	fastBackoff(t)

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := newTestFetcher(t, config.DefaultJobConfig())
	if _, err := FetchWithRetry(ctx, f, srv.URL, testLogger); err == nil {
		t.Fatal("expected failure")
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1 when the caller's deadline expired", attempts.Load())
	}
}

func TestFetchWithRetryDoesNotRetrySoftFailures(t *testing.T) {
	fastBackoff(t)

	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := newTestFetcher(t, config.DefaultJobConfig())
	body, err := FetchWithRetry(context.Background(), f, srv.URL, testLogger)
	if err != nil || body != "" {
		t.Fatalf("got (%q, %v)", body, err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("seconds form = %v", got)
	}
	if got := parseRetryAfter("900"); got != 120*time.Second {
		t.Errorf("cap = %v", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("empty = %v", got)
	}
	if got := parseRetryAfter("garbage"); got != 0 {
		t.Errorf("garbage = %v", got)
	}
}

func TestJitterDelayBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := JitterDelay(0.5, 1.5)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Fatalf("jitter out of bounds: %v", d)
		}
	}
}

func TestProxyManagerRoundRobin(t *testing.T) {
	pm := NewProxyManager([]string{
		"http://p1:8080",
		"http://p2:8080",
		"not a proxy \x7f",
	}, testLogger)

	if pm.Len() != 2 {
		t.Fatalf("expected 2 valid proxies, got %d", pm.Len())
	}

	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		seen[pm.Next().Host]++
	}
	if seen["p1:8080"] != 2 || seen["p2:8080"] != 2 {
		t.Errorf("rotation uneven: %v", seen)
	}
}

func TestFetchMarksFailedProxy(t *testing.T) {
	cfg := config.DefaultJobConfig()
	// Nothing listens on either port; the connect through the proxy fails.
	cfg.Proxies = []string{"http://127.0.0.1:1", "http://127.0.0.1:9"}
	f := newTestFetcher(t, cfg)

	if _, err := f.Fetch(context.Background(), "http://example.invalid/"); err == nil {
		t.Fatal("expected proxy connect failure")
	}
	if got := f.proxies.Len(); got != 1 {
		t.Errorf("healthy proxies = %d, want 1 after a failed request", got)
	}
}

func TestProxyManagerKeepsLastHealthy(t *testing.T) {
	pm := NewProxyManager([]string{"http://p1:8080", "http://p2:8080"}, testLogger)

	pm.MarkFailed(pm.Next())
	if pm.Len() != 1 {
		t.Fatalf("expected 1 healthy proxy, got %d", pm.Len())
	}
	// The survivor never gets removed.
	pm.MarkFailed(pm.Next())
	if pm.Len() != 1 {
		t.Errorf("last proxy must stay in rotation, got %d", pm.Len())
	}
	if pm.Next() == nil {
		t.Error("expected a proxy, got direct")
	}
}
