package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/types"
)

// Browser contexts accumulate cookies, cache and fingerprintable state, so
// they are thrown away and rebuilt after a fixed number of pages.
const maxPagesPerContext = 50

const (
	navigateTimeout      = 30 * time.Second
	stabilizeWindow      = 300 * time.Millisecond
	waitSelectorTimeout  = 10 * time.Second
	interactionTimeout   = 5 * time.Second
	interactionAttempts  = 2
	interactionRetryWait = time.Second
)

// BrowserFetcher renders pages in headless Chromium via rod, with stealth
// patches and periodic incognito context rotation.
type BrowserFetcher struct {
	cfg     *config.JobConfig
	logger  *slog.Logger
	proxies *ProxyManager
	uaIndex atomic.Int64

	launch  *launcher.Launcher
	browser *rod.Browser

	mu         sync.Mutex
	sessionCtx *rod.Browser // current incognito context
	pageCount  int
}

// NewBrowserFetcher launches Chromium and connects to it.
func NewBrowserFetcher(cfg *config.JobConfig, logger *slog.Logger) (*BrowserFetcher, error) {
	bf := &BrowserFetcher{
		cfg:    cfg,
		logger: logger.With("component", "browser_fetcher"),
	}
	if len(cfg.Proxies) > 0 {
		bf.proxies = NewProxyManager(cfg.Proxies, logger)
	}

	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if bf.proxies != nil {
		if proxyURL := bf.proxies.Next(); proxyURL != nil {
			l = l.Proxy(proxyURL.String())
		}
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	bf.launch = l

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	bf.browser = browser

	bf.logger.Info("browser ready", "pages_per_context", maxPagesPerContext)
	return bf, nil
}

// Fetch implements Fetcher: navigate, stabilize, run the configured
// interactions and return the rendered HTML.
func (bf *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	page, err := bf.newPage()
	if err != nil {
		return "", &types.FetchError{URL: url, Err: err, Retryable: true}
	}
	defer page.Close()

	page = page.Context(ctx).Timeout(navigateTimeout)

	ua := defaultUserAgents[bf.uaIndex.Add(1)%int64(len(defaultUserAgents))]
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		bf.logger.Warn("set user agent failed", "error", err)
	}
	if len(bf.cfg.Headers) > 0 {
		pairs := make([]string, 0, len(bf.cfg.Headers)*2)
		for k, v := range bf.cfg.Headers {
			pairs = append(pairs, k, v)
		}
		if _, err := page.SetExtraHeaders(pairs); err != nil {
			bf.logger.Warn("set headers failed", "error", err)
		}
	}

	if err := page.Navigate(url); err != nil {
		return "", &types.FetchError{URL: url, Err: err, Retryable: true}
	}
	if err := page.WaitStable(stabilizeWindow); err != nil {
		bf.logger.Debug("page did not stabilize", "url", url, "error", err)
	}

	bf.runInteractions(page)

	if sel := bf.cfg.WaitForSelector; sel != "" {
		if _, err := page.Timeout(waitSelectorTimeout).Element(sel); err != nil {
			bf.logger.Warn("wait_for_selector not found", "selector", sel, "url", url)
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", &types.FetchError{URL: url, Err: err, Retryable: true}
	}
	return html, nil
}

// newPage creates a stealth page in the current incognito context, rotating
// the context once it has served maxPagesPerContext pages.
func (bf *BrowserFetcher) newPage() (*rod.Page, error) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if bf.sessionCtx == nil || bf.pageCount >= maxPagesPerContext {
		if bf.sessionCtx != nil {
			bf.disposeContextLocked()
			bf.logger.Info("rotating browser context", "pages_served", bf.pageCount)
		}
		inc, err := bf.browser.Incognito()
		if err != nil {
			return nil, fmt.Errorf("new browser context: %w", err)
		}
		bf.sessionCtx = inc
		bf.pageCount = 0
	}
	bf.pageCount++

	return stealth.Page(bf.sessionCtx)
}

func (bf *BrowserFetcher) disposeContextLocked() {
	err := proto.TargetDisposeBrowserContext{
		BrowserContextID: bf.sessionCtx.BrowserContextID,
	}.Call(bf.browser)
	if err != nil {
		bf.logger.Warn("dispose browser context failed", "error", err)
	}
	bf.sessionCtx = nil
}

// runInteractions executes the interaction script. Each step gets a bounded
// timeout and one retry; a step that still fails is logged and skipped so a
// flaky overlay never kills the whole page.
func (bf *BrowserFetcher) runInteractions(page *rod.Page) {
	for _, step := range bf.cfg.Interactions {
		var lastErr error
		for attempt := 0; attempt < interactionAttempts; attempt++ {
			if attempt > 0 {
				time.Sleep(interactionRetryWait)
			}
			lastErr = bf.applyInteraction(page.Timeout(interactionTimeout), step)
			if lastErr == nil {
				break
			}
		}
		if lastErr != nil {
			bf.logger.Warn("interaction failed, skipping",
				"type", step.Type,
				"selector", step.Selector,
				"error", lastErr,
			)
		}
	}
}

func (bf *BrowserFetcher) applyInteraction(page *rod.Page, step config.Interaction) error {
	switch step.Type {
	case config.InteractionWait:
		d := time.Duration(step.Duration) * time.Millisecond
		if d <= 0 {
			d = time.Second
		}
		time.Sleep(d)
		return nil

	case config.InteractionScroll:
		_, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`)
		return err

	case config.InteractionClick:
		el, err := page.Element(step.Selector)
		if err != nil {
			return err
		}
		return el.Click(proto.InputMouseButtonLeft, 1)

	case config.InteractionFill:
		el, err := page.Element(step.Selector)
		if err != nil {
			return err
		}
		return el.Input(step.Value)

	case config.InteractionHover:
		el, err := page.Element(step.Selector)
		if err != nil {
			return err
		}
		return el.Hover()

	case config.InteractionPress, config.InteractionKeyPress:
		if step.Selector != "" {
			el, err := page.Element(step.Selector)
			if err != nil {
				return err
			}
			if err := el.Focus(); err != nil {
				return err
			}
		}
		key, ok := keyByName[step.Value]
		if !ok {
			return fmt.Errorf("unknown key %q", step.Value)
		}
		return page.Keyboard.Type(key)
	}
	return fmt.Errorf("unknown interaction type %q", step.Type)
}

// Close disposes the active context and shuts the browser down.
func (bf *BrowserFetcher) Close() error {
	bf.mu.Lock()
	if bf.sessionCtx != nil {
		bf.disposeContextLocked()
	}
	bf.mu.Unlock()

	var err error
	if bf.browser != nil {
		err = bf.browser.Close()
	}
	if bf.launch != nil {
		bf.launch.Cleanup()
	}
	return err
}

// Type implements Fetcher.
func (bf *BrowserFetcher) Type() string { return "browser" }

var keyByName = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Space":      input.Space,
	"Backspace":  input.Backspace,
	"ArrowDown":  input.ArrowDown,
	"ArrowUp":    input.ArrowUp,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"PageDown":   input.PageDown,
	"PageUp":     input.PageUp,
	"Home":       input.Home,
	"End":        input.End,
}
