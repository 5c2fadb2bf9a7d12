package resolver

import (
	"testing"

	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/types"
)

const apiBody = `{
  "post": {"title": "Hello", "score": 42, "over_18": false},
  "comments": [
    {"author": "ann", "body": "first", "ups": 10},
    {"author": "bob", "body": "second", "ups": 3}
  ],
  "next": "http://h/page2.json"
}`

func TestJSONScalarPath(t *testing.T) {
	r := NewJSONResolver(apiBody)
	f := &config.FieldSpec{
		Name:      "title",
		Selectors: []config.Selector{{Type: config.SelectorJSONPath, Value: "post.title"}},
	}
	if got := r.ResolveField(f); got != "Hello" {
		t.Errorf("title = %v", got)
	}
}

func TestJSONNumberAndBool(t *testing.T) {
	r := NewJSONResolver(apiBody)

	score := r.ResolveField(&config.FieldSpec{
		Name:      "score",
		Selectors: []config.Selector{{Type: config.SelectorJSONPath, Value: "post.score"}},
	})
	if score != 42.0 {
		t.Errorf("score = %v (%T)", score, score)
	}

	nsfw := r.ResolveField(&config.FieldSpec{
		Name:      "over_18",
		Selectors: []config.Selector{{Type: config.SelectorJSONPath, Value: "post.over_18"}},
	})
	if nsfw != false {
		t.Errorf("over_18 = %v", nsfw)
	}
}

func TestJSONArrayList(t *testing.T) {
	r := NewJSONResolver(apiBody)
	f := &config.FieldSpec{
		Name:      "authors",
		IsList:    true,
		Selectors: []config.Selector{{Type: config.SelectorJSONPath, Value: "comments.#.author"}},
	}
	got, ok := r.ResolveField(f).([]any)
	if !ok || len(got) != 2 {
		t.Fatalf("authors = %v", r.ResolveField(f))
	}
	if got[0] != "ann" || got[1] != "bob" {
		t.Errorf("authors = %v", got)
	}
}

func TestJSONChildren(t *testing.T) {
	r := NewJSONResolver(apiBody)
	f := &config.FieldSpec{
		Name:      "comments",
		IsList:    true,
		Selectors: []config.Selector{{Type: config.SelectorJSONPath, Value: "comments"}},
		Children: []*config.FieldSpec{
			{Name: "who", Selectors: []config.Selector{{Type: config.SelectorJSONPath, Value: "author"}}},
			{Name: "ups", Selectors: []config.Selector{{Type: config.SelectorJSONPath, Value: "ups"}}},
		},
	}

	rows, ok := r.ResolveField(f).([]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("comments = %v", r.ResolveField(f))
	}
	first := rows[0].(types.Record)
	if first["who"] != "ann" || first["ups"] != 10.0 {
		t.Errorf("first comment = %v", first)
	}
}

func TestJSONRegexSelector(t *testing.T) {
	r := NewJSONResolver(apiBody)
	f := &config.FieldSpec{
		Name:      "host",
		Selectors: []config.Selector{{Type: config.SelectorRegex, Value: `"next": "http://([^/]+)/`}},
	}
	if got := r.ResolveField(f); got != "h" {
		t.Errorf("host = %v", got)
	}
}

func TestJSONMissingPath(t *testing.T) {
	r := NewJSONResolver(apiBody)
	f := &config.FieldSpec{
		Name:      "absent",
		Selectors: []config.Selector{{Type: config.SelectorJSONPath, Value: "post.nope"}},
	}
	if got := r.ResolveField(f); got != nil {
		t.Errorf("missing path = %v", got)
	}
}

func TestJSONAttributeReturnsPathValue(t *testing.T) {
	r := NewJSONResolver(apiBody)
	got := r.Attribute(config.Selector{Type: config.SelectorJSONPath, Value: "next"}, "href")
	if got != "http://h/page2.json" {
		t.Errorf("next = %q", got)
	}
}

func TestNewDispatchesOnResponseType(t *testing.T) {
	if _, ok := mustResolver(t, `{"a":1}`, config.ResponseJSON).(*JSONResolver); !ok {
		t.Error("expected JSON resolver")
	}
	if _, ok := mustResolver(t, "<html></html>", config.ResponseHTML).(*HTMLResolver); !ok {
		t.Error("expected HTML resolver")
	}
}

func mustResolver(t *testing.T, body, kind string) Resolver {
	t.Helper()
	r, err := New(body, kind, "http://h/")
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r
}
