package resolver

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/transform"
	"github.com/glider-scraper/glider/internal/types"
)

// HTMLResolver resolves css, xpath and regex selectors against one parsed
// HTML document. css and xpath share the same parse tree; regex runs over
// the raw body.
type HTMLResolver struct {
	body    string
	baseURL string
	root    *html.Node
}

// NewHTMLResolver parses the body once for all selector kinds.
func NewHTMLResolver(body, baseURL string) (*HTMLResolver, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, &types.ParseError{URL: baseURL, Err: err}
	}
	return &HTMLResolver{body: body, baseURL: baseURL, root: root}, nil
}

// ResolveField implements Resolver. Selectors are tried in order; the first
// one that yields any value wins.
func (r *HTMLResolver) ResolveField(f *config.FieldSpec) any {
	return r.resolveScoped(r.root, r.body, f)
}

// resolveScoped resolves a field against a scope node (the document root at
// the top level, a matched parent element for child fields).
func (r *HTMLResolver) resolveScoped(scope *html.Node, scopeText string, f *config.FieldSpec) any {
	// regex selectors yield strings, not elements, so they bypass the
	// children path entirely.
	var nodes []*html.Node
	var strVals []any

	for _, sel := range f.Selectors {
		switch sel.Type {
		case config.SelectorRegex:
			strVals = resolveRegex(scopeText, sel.Value, f, r.baseURL)
		default:
			nodes = r.selectNodes(scope, sel)
		}
		if len(nodes) > 0 || len(strVals) > 0 {
			break
		}
	}

	if len(strVals) > 0 {
		if f.IsList {
			return strVals
		}
		return strVals[0]
	}

	if len(nodes) == 0 {
		if f.IsList {
			return []any{}
		}
		return nil
	}

	if len(f.Children) > 0 {
		return r.resolveChildren(nodes, f)
	}

	values := make([]any, 0, len(nodes))
	for _, n := range nodes {
		if v := r.extractValue(n, f); v != nil {
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

// resolveChildren builds one nested record per matched parent element.
func (r *HTMLResolver) resolveChildren(parents []*html.Node, f *config.FieldSpec) any {
	rows := make([]any, 0, len(parents))
	for _, parent := range parents {
		row := types.NewRecord()
		scopeHTML := htmlquery.OutputHTML(parent, true)
		for _, child := range f.Children {
			row[child.Name] = r.resolveScoped(parent, scopeHTML, child)
		}
		rows = append(rows, row)
	}
	if f.IsList {
		return rows
	}
	if len(rows) == 0 {
		return nil
	}
	return rows[0]
}

func (r *HTMLResolver) selectNodes(scope *html.Node, sel config.Selector) []*html.Node {
	switch sel.Type {
	case config.SelectorCSS:
		doc := goquery.NewDocumentFromNode(scope)
		return doc.Find(sel.Value).Nodes
	case config.SelectorXPath:
		nodes, err := htmlquery.QueryAll(scope, sel.Value)
		if err != nil {
			return nil
		}
		return nodes
	}
	return nil
}

// extractValue reads text or an attribute from a node and runs the
// transformer chain.
func (r *HTMLResolver) extractValue(n *html.Node, f *config.FieldSpec) any {
	var val string
	switch f.Attribute {
	case "", "text":
		val = htmlquery.InnerText(n)
	case "html", "innerHTML":
		val = htmlquery.OutputHTML(n, false)
	case "outerHTML":
		val = htmlquery.OutputHTML(n, true)
	default:
		val = htmlquery.SelectAttr(n, f.Attribute)
	}
	return transform.Apply(val, f.Transformers, r.baseURL)
}

// Attribute implements Resolver.
func (r *HTMLResolver) Attribute(sel config.Selector, attr string) string {
	nodes := r.selectNodes(r.root, sel)
	if len(nodes) == 0 {
		return ""
	}
	return htmlquery.SelectAttr(nodes[0], attr)
}

// resolveRegex extracts capture-group values from the scope text.
func resolveRegex(text, pattern string, f *config.FieldSpec, baseURL string) []any {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil
	}
	matches := re.FindAllStringSubmatch(text, -1)
	values := make([]any, 0, len(matches))
	for _, m := range matches {
		var raw string
		if len(m) > 1 {
			raw = m[1]
		} else {
			raw = m[0]
		}
		if v := transform.Apply(raw, f.Transformers, baseURL); v != nil {
			values = append(values, v)
		}
		if !f.IsList && len(values) > 0 {
			break
		}
	}
	return values
}
