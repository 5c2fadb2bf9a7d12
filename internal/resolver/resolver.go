// Package resolver turns fetched document bodies into extracted values by
// resolving FieldSpec selector trees. It is polymorphic over document kind:
// HTML bodies answer css, xpath and regex selectors; JSON bodies answer
// json_path and regex selectors.
package resolver

import (
	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/types"
)

// Resolver resolves field specs against one parsed document.
type Resolver interface {
	// ResolveField resolves a single field node. The result is a scalar,
	// a list (is_list), or nested records (children). follow_url expansion
	// is the engine's concern; this method returns the field's own values.
	ResolveField(f *config.FieldSpec) any

	// Attribute resolves a selector and returns the named attribute of the
	// first match. Used by the pagination driver for the next link.
	Attribute(sel config.Selector, attr string) string
}

// New parses a body and returns the resolver for its document kind.
func New(body, responseType, baseURL string) (Resolver, error) {
	if responseType == config.ResponseJSON {
		return NewJSONResolver(body), nil
	}
	return NewHTMLResolver(body, baseURL)
}

// ExtractRecord applies the top-level field list in declaration order,
// producing one record.
func ExtractRecord(r Resolver, fields []*config.FieldSpec) types.Record {
	record := types.NewRecord()
	for _, f := range fields {
		record[f.Name] = r.ResolveField(f)
	}
	return record
}
