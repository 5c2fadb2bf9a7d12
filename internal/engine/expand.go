package engine

import (
	"context"
	"strings"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/fetcher"
	"github.com/glider-scraper/glider/internal/resolver"
	"github.com/glider-scraper/glider/internal/types"
)

// extractPage extracts one record from a resolved document, expanding
// follow_url fields into child records. The nested-URL budget is per page.
func (e *Engine) extractPage(ctx context.Context, res resolver.Resolver, pageURL string) types.Record {
	budget := e.cfg.MaxNestedURLs
	return e.extractFields(ctx, res, e.cfg.Fields, pageURL, &budget)
}

func (e *Engine) extractFields(ctx context.Context, res resolver.Resolver, fields []*config.FieldSpec, pageURL string, budget *int) types.Record {
	record := types.NewRecord()
	for _, f := range fields {
		if f.FollowURL && len(f.NestedFields) > 0 {
			record[f.Name] = e.expandField(ctx, res, f, pageURL, budget)
			continue
		}
		record[f.Name] = res.ResolveField(f)
	}
	return record
}

// expandField fetches the URLs a follow_url field points at and replaces
// them with fully extracted child records.
func (e *Engine) expandField(ctx context.Context, res resolver.Resolver, f *config.FieldSpec, pageURL string, budget *int) any {
	urls := e.childURLs(res, f, pageURL)

	children := make([]any, 0, len(urls))
	for _, child := range urls {
		if *budget <= 0 {
			e.logger.Debug("nested URL budget exhausted", "field", f.Name, "url", pageURL)
			break
		}
		*budget--
		if rec := e.fetchChild(ctx, child, pageURL, f.NestedFields, budget); rec != nil {
			children = append(children, rec)
		}
	}

	if f.IsList {
		return children
	}
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

// childURLs resolves the field's own selectors as URLs: absolutized against
// the page, and rewritten for JSON mode.
func (e *Engine) childURLs(res resolver.Resolver, f *config.FieldSpec, pageURL string) []string {
	// Resolve the link value only; children and nested fields belong to the
	// child documents, not this one.
	link := *f
	link.Children = nil
	link.NestedFields = nil
	if link.Attribute == "" && e.cfg.ResponseType == config.ResponseHTML {
		link.Attribute = "href"
	}

	var urls []string
	for _, v := range toStringList(res.ResolveField(&link)) {
		u := absolutize(pageURL, strings.TrimSpace(v))
		if e.cfg.ResponseType == config.ResponseJSON {
			u = rewriteJSONURL(u)
		}
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// fetchChild runs one child URL through the same gatekeeping as a top-level
// page. Failures cost only this child; nil means nothing to merge.
func (e *Engine) fetchChild(ctx context.Context, url, parentURL string, fields []*config.FieldSpec, budget *int) types.Record {
	if e.shutdown.Load() || ctx.Err() != nil {
		return nil
	}
	if e.ckpt.IsDone(url) {
		e.observe(types.StatsEvent{EventType: types.EventPageSkipped, Count: 1})
		return nil
	}
	if !e.gate.IsAllowed(ctx, url) {
		e.observe(types.StatsEvent{EventType: types.EventBlocked, Count: 1, Metadata: map[string]any{"url": url}})
		return nil
	}

	e.ckpt.MarkInProgress(url)
	if err := e.limiter.Wait(ctx); err != nil {
		return nil
	}

	body, err := fetcher.FetchWithRetry(ctx, e.fetch, url, e.logger)
	if err != nil {
		e.recordFailure(url, err)
		return nil
	}

	res, err := resolver.New(body, e.cfg.ResponseType, url)
	if err != nil {
		e.saveDebugSnapshot(url, body)
		e.recordFailure(url, err)
		return nil
	}

	record := e.extractFields(ctx, res, fields, url, budget)
	record["_source_url"] = url
	record["_parent_url"] = parentURL

	e.ckpt.MarkDone(url)
	e.observe(types.StatsEvent{EventType: types.EventPageSuccess, Count: 1})
	e.logger.Debug("child page scraped", "url", url, "parent", parentURL)
	return record
}

// rewriteJSONURL turns a page URL into its JSON endpoint form: the trailing
// slash goes, ".json" is appended.
func rewriteJSONURL(u string) string {
	u = strings.TrimSuffix(u, "/")
	if u == "" || strings.HasSuffix(u, ".json") {
		return u
	}
	return u + ".json"
}

func toStringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, el := range t {
			if s, ok := el.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	return nil
}
