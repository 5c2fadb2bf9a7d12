package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/glider-scraper/glider/internal/fetcher"
	"github.com/glider-scraper/glider/internal/resolver"
	"github.com/glider-scraper/glider/internal/types"
)

// Jitter between a worker's consecutive requests, in seconds. Vars, not
// consts: tests compress the waits.
var (
	workerJitterMin = 0.5
	workerJitterMax = 1.5
)

// runList crawls an independent URL set with a bounded worker pool. The
// work queue is the deduplicated seed list minus already-done URLs, plus
// URLs recovered from a previous interrupted run.
func (e *Engine) runList(ctx context.Context) error {
	inQueue := make(map[string]struct{})
	var work []string

	for _, u := range e.cfg.StartURLs {
		if _, dup := inQueue[u]; dup {
			continue
		}
		inQueue[u] = struct{}{}
		if e.ckpt.IsDone(u) {
			e.observe(types.StatsEvent{EventType: types.EventPageSkipped, Count: 1})
			continue
		}
		work = append(work, u)
	}
	for _, u := range e.ckpt.Incomplete() {
		if _, dup := inQueue[u]; dup {
			continue
		}
		inQueue[u] = struct{}{}
		work = append(work, u)
	}

	if len(work) == 0 {
		e.logger.Info("nothing to do, all URLs done")
		return nil
	}
	e.logger.Info("work queue built", "urls", len(work), "recovered", len(work)-countSeeds(work, e.cfg.StartURLs))

	queue := make(chan string, len(work))
	for _, u := range work {
		queue <- u
	}
	close(queue)

	workers := e.cfg.Concurrency
	if workers > len(work) {
		workers = len(work)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.listWorker(ctx, queue); err != nil {
				e.shutdown.Store(true)
				select {
				case errCh <- err:
				default:
				}
			}
		}()
	}
	wg.Wait()

	select {
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		return err
	default:
		return ctx.Err()
	}
}

// listWorker drains the queue. A returned error is fatal for the whole run
// (shutdown flag set by the caller); per-URL failures are recorded and the
// worker moves on.
func (e *Engine) listWorker(ctx context.Context, queue <-chan string) error {
	for url := range queue {
		if e.shutdown.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if !e.gate.IsAllowed(ctx, url) {
			e.observe(types.StatsEvent{EventType: types.EventBlocked, Count: 1, Metadata: map[string]any{"url": url}})
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		e.ckpt.MarkInProgress(url)

		body, err := fetcher.FetchWithRetry(ctx, e.fetch, url, e.logger)
		switch {
		case err != nil && isFatal(err):
			e.recordFailure(url, err)
			return err
		case err != nil:
			e.recordFailure(url, err)
		default:
			if err := e.processPage(ctx, url, body); err != nil {
				e.recordFailure(url, err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fetcher.JitterDelay(workerJitterMin, workerJitterMax)):
		}
	}
	return nil
}

// processPage extracts one fetched body, merges the record and checkpoints
// the URL.
func (e *Engine) processPage(ctx context.Context, url, body string) error {
	res, err := resolver.New(body, e.cfg.ResponseType, url)
	if err != nil {
		e.saveDebugSnapshot(url, body)
		return err
	}

	record := e.extractPage(ctx, res, url)
	if err := e.batcher.Merge(record); err != nil {
		return err
	}

	e.ckpt.MarkDone(url)
	e.observe(types.StatsEvent{EventType: types.EventPageSuccess, Count: 1})
	e.logger.Info("page scraped", "url", url)
	return nil
}

// isFatal reports errors that should stop all workers rather than cost one
// URL: context cancellation and authentication failures.
func isFatal(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	var ae *types.AuthError
	return errors.As(err, &ae)
}

func countSeeds(work, seeds []string) int {
	set := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		set[s] = struct{}{}
	}
	n := 0
	for _, u := range work {
		if _, ok := set[u]; ok {
			n++
		}
	}
	return n
}
