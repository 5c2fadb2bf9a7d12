package fetcher

import (
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
)

// ProxyManager rotates requests over a pool of proxies, skipping entries
// that were marked failed. With an empty pool every request goes direct.
type ProxyManager struct {
	proxies []*proxyEntry
	index   atomic.Int64
	mu      sync.RWMutex
	logger  *slog.Logger
}

type proxyEntry struct {
	url     *url.URL
	healthy bool
}

// NewProxyManager parses the proxy URL list; invalid entries are logged and
// skipped.
func NewProxyManager(urls []string, logger *slog.Logger) *ProxyManager {
	pm := &ProxyManager{
		proxies: make([]*proxyEntry, 0, len(urls)),
		logger:  logger.With("component", "proxy_manager"),
	}
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			pm.logger.Warn("invalid proxy URL, skipping", "url", raw)
			continue
		}
		pm.proxies = append(pm.proxies, &proxyEntry{url: u, healthy: true})
	}
	pm.logger.Info("proxy pool ready", "count", len(pm.proxies))
	return pm
}

// Next returns the next healthy proxy round-robin, or nil for a direct
// connection when none remain.
func (pm *ProxyManager) Next() *url.URL {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	n := len(pm.proxies)
	if n == 0 {
		return nil
	}
	start := pm.index.Add(1)
	for i := 0; i < n; i++ {
		entry := pm.proxies[(start+int64(i))%int64(n)]
		if entry.healthy {
			return entry.url
		}
	}
	return nil
}

// MarkFailed removes a proxy from rotation. The last healthy proxy is never
// removed, so a fully degraded pool keeps limping instead of going direct
// silently.
func (pm *ProxyManager) MarkFailed(u *url.URL) {
	if u == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	healthy := 0
	for _, entry := range pm.proxies {
		if entry.healthy {
			healthy++
		}
	}
	for _, entry := range pm.proxies {
		if entry.url.String() == u.String() && entry.healthy {
			if healthy <= 1 {
				return
			}
			entry.healthy = false
			pm.logger.Warn("proxy marked failed", "proxy", u.Host)
			return
		}
	}
}

// Len reports the number of usable proxies.
func (pm *ProxyManager) Len() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	count := 0
	for _, entry := range pm.proxies {
		if entry.healthy {
			count++
		}
	}
	return count
}
