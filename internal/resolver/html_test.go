package resolver

import (
	"testing"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/types"
)

const bookPage = `<html><body>
<h1 class="title">  Catalog  </h1>
<div class="book" data-id="b1">
  <a class="name" href="/book/1">First Book</a>
  <span class="price">$10.50</span>
</div>
<div class="book" data-id="b2">
  <a class="name" href="/book/2">Second Book</a>
  <span class="price">$22.00</span>
</div>
<a class="next" href="/page/2">Next</a>
</body></html>`

func mustHTML(t *testing.T, body string) *HTMLResolver {
	t.Helper()
	r, err := NewHTMLResolver(body, "http://h/page/1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return r
}

func TestHTMLScalarCSS(t *testing.T) {
	r := mustHTML(t, bookPage)
	f := &config.FieldSpec{
		Name:         "title",
		Selectors:    []config.Selector{{Type: config.SelectorCSS, Value: "h1.title"}},
		Transformers: []config.Transformer{{Name: "strip"}},
	}
	if got := r.ResolveField(f); got != "Catalog" {
		t.Errorf("title = %v", got)
	}
}

func TestHTMLListExtraction(t *testing.T) {
	r := mustHTML(t, bookPage)
	f := &config.FieldSpec{
		Name:      "names",
		IsList:    true,
		Selectors: []config.Selector{{Type: config.SelectorCSS, Value: ".book .name"}},
	}
	got, ok := r.ResolveField(f).([]any)
	if !ok || len(got) != 2 {
		t.Fatalf("names = %v", r.ResolveField(f))
	}
	if got[0] != "First Book" || got[1] != "Second Book" {
		t.Errorf("names = %v", got)
	}
}

func TestHTMLAttributeExtraction(t *testing.T) {
	r := mustHTML(t, bookPage)
	f := &config.FieldSpec{
		Name:      "ids",
		IsList:    true,
		Attribute: "data-id",
		Selectors: []config.Selector{{Type: config.SelectorCSS, Value: ".book"}},
	}
	got := r.ResolveField(f).([]any)
	if len(got) != 2 || got[0] != "b1" || got[1] != "b2" {
		t.Errorf("ids = %v", got)
	}
}

func TestHTMLXPath(t *testing.T) {
	r := mustHTML(t, bookPage)
	f := &config.FieldSpec{
		Name:      "title",
		Selectors: []config.Selector{{Type: config.SelectorXPath, Value: "//h1[@class='title']"}},
	}
	got, _ := r.ResolveField(f).(string)
	if got == "" {
		t.Errorf("xpath title = %q", got)
	}
}

func TestHTMLRegexSelector(t *testing.T) {
	r := mustHTML(t, bookPage)
	f := &config.FieldSpec{
		Name:      "prices",
		IsList:    true,
		Selectors: []config.Selector{{Type: config.SelectorRegex, Value: `\$([0-9.]+)`}},
	}
	got := r.ResolveField(f).([]any)
	if len(got) != 2 || got[0] != "10.50" || got[1] != "22.00" {
		t.Errorf("prices = %v", got)
	}
}

func TestHTMLFirstMatchingSelectorWins(t *testing.T) {
	r := mustHTML(t, bookPage)
	f := &config.FieldSpec{
		Name: "title",
		Selectors: []config.Selector{
			{Type: config.SelectorCSS, Value: ".does-not-exist"},
			{Type: config.SelectorCSS, Value: "h1.title"},
		},
		Transformers: []config.Transformer{{Name: "strip"}},
	}
	if got := r.ResolveField(f); got != "Catalog" {
		t.Errorf("fallback selector = %v", got)
	}
}

func TestHTMLChildrenProduceNestedRecords(t *testing.T) {
	r := mustHTML(t, bookPage)
	f := &config.FieldSpec{
		Name:      "books",
		IsList:    true,
		Selectors: []config.Selector{{Type: config.SelectorCSS, Value: ".book"}},
		Children: []*config.FieldSpec{
			{Name: "name", Selectors: []config.Selector{{Type: config.SelectorCSS, Value: ".name"}}},
			{Name: "url", Attribute: "href", Selectors: []config.Selector{{Type: config.SelectorCSS, Value: ".name"}}},
		},
	}

	rows, ok := r.ResolveField(f).([]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("books = %v", r.ResolveField(f))
	}
	first := rows[0].(types.Record)
	if first["name"] != "First Book" || first["url"] != "/book/1" {
		t.Errorf("first book = %v", first)
	}
	second := rows[1].(types.Record)
	if second["name"] != "Second Book" {
		t.Errorf("second book = %v", second)
	}
}

func TestHTMLMissingScalarIsNil(t *testing.T) {
	r := mustHTML(t, bookPage)
	f := &config.FieldSpec{
		Name:      "absent",
		Selectors: []config.Selector{{Type: config.SelectorCSS, Value: ".nope"}},
	}
	if got := r.ResolveField(f); got != nil {
		t.Errorf("missing scalar = %v", got)
	}
}

func TestHTMLMissingListIsEmpty(t *testing.T) {
	r := mustHTML(t, bookPage)
	f := &config.FieldSpec{
		Name:      "absent",
		IsList:    true,
		Selectors: []config.Selector{{Type: config.SelectorCSS, Value: ".nope"}},
	}
	got, ok := r.ResolveField(f).([]any)
	if !ok || len(got) != 0 {
		t.Errorf("missing list = %v", r.ResolveField(f))
	}
}

func TestHTMLAttributeLookup(t *testing.T) {
	r := mustHTML(t, bookPage)
	got := r.Attribute(config.Selector{Type: config.SelectorCSS, Value: "a.next"}, "href")
	if got != "/page/2" {
		t.Errorf("next link = %q", got)
	}
	if got := r.Attribute(config.Selector{Type: config.SelectorCSS, Value: "a.prev"}, "href"); got != "" {
		t.Errorf("absent link = %q", got)
	}
}

func TestExtractRecordDeclarationOrder(t *testing.T) {
	r := mustHTML(t, bookPage)
	fields := []*config.FieldSpec{
		{Name: "title", Selectors: []config.Selector{{Type: config.SelectorCSS, Value: "h1.title"}}, Transformers: []config.Transformer{{Name: "strip"}}},
		{Name: "count", IsList: true, Selectors: []config.Selector{{Type: config.SelectorCSS, Value: ".book"}}, Attribute: "data-id"},
	}
	record := ExtractRecord(r, fields)
	if record["title"] != "Catalog" {
		t.Errorf("record title = %v", record["title"])
	}
	if ids := record["count"].([]any); len(ids) != 2 {
		t.Errorf("record ids = %v", ids)
	}
}
