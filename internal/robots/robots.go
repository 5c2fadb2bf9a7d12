// Package robots enforces robots.txt politeness rules with a per-host cache.
package robots

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	fetchTimeout = 10 * time.Second
	maxBodyBytes = 512 * 1024
)

// Gate answers allow/deny per URL based on each host's robots.txt. Any
// failure to fetch or parse a policy defaults to allow-all for that host.
type Gate struct {
	enabled bool
	client  *http.Client
	mu      sync.RWMutex
	cache   map[string]*robotstxt.Group // host -> rules for User-agent "*"
	logger  *slog.Logger
}

// NewGate creates a Gate. When disabled, every URL is allowed.
func NewGate(enabled bool, logger *slog.Logger) *Gate {
	return &Gate{
		enabled: enabled,
		client:  &http.Client{Timeout: fetchTimeout},
		cache:   make(map[string]*robotstxt.Group),
		logger:  logger.With("component", "robots"),
	}
}

// Prefetch warms the cache for a URL's host. Called on engine start for the
// base host so the first page fetch does not pay the robots round-trip.
func (g *Gate) Prefetch(ctx context.Context, rawURL string) {
	if !g.enabled {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	g.groupFor(ctx, u)
}

// IsAllowed reports whether the URL may be fetched under the host's policy
// for user-agent "*".
func (g *Gate) IsAllowed(ctx context.Context, rawURL string) bool {
	if !g.enabled {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	group := g.groupFor(ctx, u)
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

// groupFor returns the cached rule group for a host, fetching it on first
// use. A nil return means allow-all.
func (g *Gate) groupFor(ctx context.Context, u *url.URL) *robotstxt.Group {
	host := u.Scheme + "://" + u.Host

	g.mu.RLock()
	group, ok := g.cache[host]
	g.mu.RUnlock()
	if ok {
		return group
	}

	group = g.fetch(ctx, host)

	g.mu.Lock()
	g.cache[host] = group
	g.mu.Unlock()
	return group
}

func (g *Gate) fetch(ctx context.Context, host string) *robotstxt.Group {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("robots.txt fetch failed, allowing all", "host", host, "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		g.logger.Warn("robots.txt read failed, allowing all", "host", host, "error", err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		g.logger.Warn("robots.txt parse failed, allowing all", "host", host, "error", err)
		return nil
	}

	g.logger.Debug("robots.txt cached", "host", host, "status", resp.StatusCode)
	return data.FindGroup("*")
}
