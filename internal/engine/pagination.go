package engine

import (
	"context"
	"net/url"
	"time"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/fetcher"
	"github.com/glider-scraper/glider/internal/resolver"
	"github.com/glider-scraper/glider/internal/types"
)

// runPagination walks a sequential page chain: each page's "next" link is
// discovered from its own body, so a broken page breaks the chain.
func (e *Engine) runPagination(ctx context.Context) error {
	if e.cfg.BaseURL == "" {
		return types.ErrNoBaseURL
	}

	maxPages := 1
	selExpr := ""
	if e.cfg.Pagination != nil {
		maxPages = e.cfg.Pagination.MaxPages
		selExpr = e.cfg.Pagination.Selector
	}

	current := e.cfg.BaseURL
	for page := 1; page <= maxPages && current != "" && !e.shutdown.Load(); page++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !e.gate.IsAllowed(ctx, current) {
			e.logger.Warn("page blocked by robots, chain ends", "url", current)
			e.observe(types.StatsEvent{EventType: types.EventBlocked, Count: 1, Metadata: map[string]any{"url": current}})
			return nil
		}

		alreadyDone := e.ckpt.IsDone(current)
		if !alreadyDone {
			e.ckpt.MarkInProgress(current)
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}

		body, err := fetcher.FetchWithRetry(ctx, e.fetch, current, e.logger)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.recordFailure(current, err)
			return nil
		}

		res, err := resolver.New(body, e.cfg.ResponseType, current)
		if err != nil {
			e.saveDebugSnapshot(current, body)
			e.recordFailure(current, err)
			return nil
		}

		if alreadyDone {
			// Resumed chain: the page was fully processed in a previous run,
			// but its body is still needed for the next link.
			e.observe(types.StatsEvent{EventType: types.EventPageSkipped, Count: 1})
			e.logger.Debug("page already done, following chain", "url", current)
		} else {
			record := e.extractPage(ctx, res, current)
			if err := e.batcher.Merge(record); err != nil {
				return err
			}
			e.ckpt.MarkDone(current)
			e.observe(types.StatsEvent{EventType: types.EventPageSuccess, Count: 1})
			e.logger.Info("page scraped", "url", current, "page", page)
		}

		if page == maxPages || selExpr == "" {
			return nil
		}
		next := e.nextPageURL(res, selExpr, current)
		if next == "" {
			e.logger.Info("no next link, chain ends", "url", current, "pages", page)
			return nil
		}
		current = next

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fetcher.JitterDelay(e.cfg.MinDelay, e.cfg.MaxDelay)):
		}
	}
	return nil
}

// nextPageURL resolves the pagination selector against the current body and
// absolutizes the result.
func (e *Engine) nextPageURL(res resolver.Resolver, selExpr, current string) string {
	expr, attr := config.SplitSelectorAttr(selExpr)
	sel := config.Selector{Type: config.SelectorCSS, Value: expr}
	if e.cfg.ResponseType == config.ResponseJSON {
		sel.Type = config.SelectorJSONPath
	}
	next := res.Attribute(sel, attr)
	if next == "" {
		return ""
	}
	return absolutize(current, next)
}

// absolutize resolves ref against base; an unparseable ref is returned
// as-is so the failure surfaces at fetch time with a useful error.
func absolutize(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
