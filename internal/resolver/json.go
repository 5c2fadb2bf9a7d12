package resolver

import (
	"github.com/tidwall/gjson"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/transform"
	"github.com/glider-scraper/glider/internal/types"
)

// JSONResolver resolves json_path and regex selectors against a JSON body.
type JSONResolver struct {
	body string
}

// NewJSONResolver wraps a raw JSON body. gjson parses lazily per query, so
// there is no up-front parse step.
func NewJSONResolver(body string) *JSONResolver {
	return &JSONResolver{body: body}
}

// ResolveField implements Resolver.
func (r *JSONResolver) ResolveField(f *config.FieldSpec) any {
	return resolveJSONScoped(gjson.Parse(r.body), r.body, f)
}

func resolveJSONScoped(scope gjson.Result, scopeText string, f *config.FieldSpec) any {
	var results []gjson.Result
	var strVals []any

	for _, sel := range f.Selectors {
		switch sel.Type {
		case config.SelectorRegex:
			strVals = resolveRegex(scopeText, sel.Value, f, "")
		case config.SelectorJSONPath:
			res := scope.Get(sel.Value)
			if !res.Exists() {
				continue
			}
			if res.IsArray() {
				results = res.Array()
			} else {
				results = []gjson.Result{res}
			}
		}
		if len(results) > 0 || len(strVals) > 0 {
			break
		}
	}

	if len(strVals) > 0 {
		if f.IsList {
			return strVals
		}
		return strVals[0]
	}

	if len(results) == 0 {
		if f.IsList {
			return []any{}
		}
		return nil
	}

	if len(f.Children) > 0 {
		rows := make([]any, 0, len(results))
		for _, el := range results {
			row := types.NewRecord()
			for _, child := range f.Children {
				row[child.Name] = resolveJSONScoped(el, el.Raw, child)
			}
			rows = append(rows, row)
		}
		if f.IsList {
			return rows
		}
		return rows[0]
	}

	values := make([]any, 0, len(results))
	for _, res := range results {
		if v := transform.Apply(jsonValue(res), f.Transformers, ""); v != nil {
			values = append(values, v)
		}
	}

	if f.IsList {
		return values
	}
	if len(values) == 0 {
		return nil
	}
	return values[0]
}

// jsonValue converts a gjson result to the natural Go value, keeping
// strings as strings so transformers behave the same as on HTML text.
func jsonValue(res gjson.Result) any {
	switch res.Type {
	case gjson.String:
		return res.String()
	case gjson.Number:
		return res.Float()
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Null:
		return nil
	default:
		return res.Value()
	}
}

// Attribute implements Resolver. JSON documents have no attributes; the
// value at the path is returned instead, which lets pagination selectors
// point at "next page" URL fields.
func (r *JSONResolver) Attribute(sel config.Selector, attr string) string {
	res := gjson.Get(r.body, sel.Value)
	if !res.Exists() {
		return ""
	}
	return res.String()
}
