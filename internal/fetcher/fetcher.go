// Package fetcher turns URLs into response bodies, over direct HTTP or a
// headless browser.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/glider-scraper/glider/internal/types"
)

// Fetcher is the interface for both back-ends.
type Fetcher interface {
	// Fetch retrieves the body at url. It returns a retryable FetchError on
	// transient failures, an empty string on hard non-2xx statuses, and the
	// body on success.
	Fetch(ctx context.Context, url string) (string, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher back-end identifier.
	Type() string
}

// Retry policy: three attempts total with exponential backoff between them,
// bounded to the 2-10s band. Vars, not consts: tests compress the waits.
var (
	maxAttempts  = 3
	backoffBase  = 2 * time.Second
	backoffLimit = 10 * time.Second
)

// FetchWithRetry runs f.Fetch with the engine's retry policy. Only errors
// classified retryable consume additional attempts; anything else
// propagates immediately.
func FetchWithRetry(ctx context.Context, f Fetcher, url string, logger *slog.Logger) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, err := f.Fetch(ctx, url)
		if err == nil {
			return body, nil
		}

		var fe *types.FetchError
		if !errors.As(err, &fe) || !fe.Retryable {
			return "", err
		}
		lastErr = err

		if attempt == maxAttempts {
			break
		}

		wait := backoffBase << (attempt - 1)
		if wait > backoffLimit {
			wait = backoffLimit
		}
		if fe.RetryAfter > wait {
			wait = fe.RetryAfter
		}
		logger.Warn("fetch failed, retrying",
			"url", url,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}

	return "", fmt.Errorf("%w: %w", types.ErrMaxRetries, lastErr)
}

// JitterDelay returns a uniform random duration in [min, max] seconds.
func JitterDelay(minSec, maxSec float64) time.Duration {
	if maxSec <= minSec {
		return time.Duration(minSec * float64(time.Second))
	}
	d := minSec + rand.Float64()*(maxSec-minSec)
	return time.Duration(d * float64(time.Second))
}
