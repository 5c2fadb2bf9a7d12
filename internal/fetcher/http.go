package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/glider-scraper/glider/internal/auth"
	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/types"
)

const maxBodySize = 10 * 1024 * 1024 // 10MB

// Retryable HTTP statuses per the transient-fetch taxonomy.
var retryableStatus = map[int]bool{
	403: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// HTTPFetcher issues direct HTTP requests with a browser-like TLS and
// header profile, rotating user agents and proxies per request.
type HTTPFetcher struct {
	client     *http.Client
	cfg        *config.JobConfig
	tokens     *auth.TokenManager
	proxies    *ProxyManager
	stickyJar  bool // cookies loaded from file persist across requests
	uaIndex    atomic.Int64
	userAgents []string
	logger     *slog.Logger
}

// NewHTTPFetcher creates the direct HTTP back-end. tokens may be nil when
// the job has no authentication.
func NewHTTPFetcher(cfg *config.JobConfig, tokens *auth.TokenManager, logger *slog.Logger) (*HTTPFetcher, error) {
	f := &HTTPFetcher{
		cfg:        cfg,
		tokens:     tokens,
		userAgents: defaultUserAgents,
		logger:     logger.With("component", "http_fetcher"),
	}

	transport := newBrowserTransport()

	if len(cfg.Proxies) > 0 {
		f.proxies = NewProxyManager(cfg.Proxies, logger)
		transport.inner.Proxy = proxyFromContext
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	if cfg.CookiesFile != "" {
		if err := LoadCookiesFile(jar, cfg.CookiesFile); err != nil {
			f.logger.Warn("cookie file load failed", "path", cfg.CookiesFile, "error", err)
		} else {
			f.stickyJar = true
		}
	}

	f.client = &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   cfg.Timeout(),
	}

	return f, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if f.client == nil {
		return "", &types.FetchError{URL: url, Err: types.ErrNoSession}
	}

	// A fresh jar per request defeats session fingerprinting, unless the
	// job explicitly loaded cookies from a file.
	if !f.stickyJar {
		if jar, err := cookiejar.New(nil); err == nil {
			f.client.Jar = jar
		}
	}

	ctx, proxy := f.selectProxy(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &types.FetchError{URL: url, Err: err}
	}

	req.Header.Set("User-Agent", f.nextUserAgent())
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	for k, v := range f.cfg.Headers {
		req.Header.Set(k, v)
	}

	if f.tokens != nil {
		token, err := f.tokens.EnsureActiveToken(ctx)
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		// A transport-level failure through a proxy counts against that
		// proxy's health, unless the caller simply gave up.
		if f.proxies != nil && proxy != nil && ctx.Err() == nil {
			f.proxies.MarkFailed(proxy)
		}
		return "", &types.FetchError{URL: url, Err: err, Retryable: isRetryableError(ctx, err)}
	}
	defer resp.Body.Close()

	if retryableStatus[resp.StatusCode] {
		fe := &types.FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("HTTP %d", resp.StatusCode),
			Retryable:  true,
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return "", fe
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Hard non-2xx: soft failure, no body and no retry.
		f.logger.Debug("hard failure status", "url", url, "status", resp.StatusCode)
		return "", nil
	}

	reader, err := decompressReader(resp, io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", &types.FetchError{URL: url, Err: err}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return "", &types.FetchError{URL: url, Err: err, Retryable: true}
	}

	f.logger.Debug("fetch complete",
		"url", url,
		"status", resp.StatusCode,
		"size", len(body),
		"duration", time.Since(start),
	)

	return string(body), nil
}

// Close releases idle connections.
func (f *HTTPFetcher) Close() error {
	if f.client != nil {
		f.client.CloseIdleConnections()
	}
	return nil
}

// Type implements Fetcher.
func (f *HTTPFetcher) Type() string { return "http" }

func (f *HTTPFetcher) nextUserAgent() string {
	idx := f.uaIndex.Add(1) % int64(len(f.userAgents))
	return f.userAgents[idx]
}

// proxyKey carries the proxy chosen for one request through the request
// context to the transport's Proxy callback, so a failed request can report
// which proxy it went through.
type proxyKey struct{}

func proxyFromContext(req *http.Request) (*url.URL, error) {
	p, _ := req.Context().Value(proxyKey{}).(*url.URL)
	return p, nil
}

// selectProxy picks the next healthy proxy for this request and stashes it
// in the context for the transport. With no pool the request goes direct.
func (f *HTTPFetcher) selectProxy(ctx context.Context) (context.Context, *url.URL) {
	if f.proxies == nil {
		return ctx, nil
	}
	p := f.proxies.Next()
	return context.WithValue(ctx, proxyKey{}, p), p
}

// decompressReader wraps the body reader with the right decompressor.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isRetryableError classifies network errors. Caller cancellation is never
// retried; per-request timeouts, resets and refused connections are.
//
// http.Client.Timeout errors satisfy errors.Is(err, context.DeadlineExceeded)
// since Go 1.16, the same sentinel a caller deadline produces. The caller's
// context tells the two apart: if ctx is still live, the deadline was the
// per-request one and the fetch is worth retrying.
func isRetryableError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter handles both integer-seconds and HTTP-date forms, capped
// at two minutes.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 0
}

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}
