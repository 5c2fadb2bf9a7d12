package transform

import (
	"testing"

	"github.com/glider-scraper/glider/internal/config"
)

func chain(names ...string) []config.Transformer {
	out := make([]config.Transformer, len(names))
	for i, n := range names {
		out[i] = config.Transformer{Name: n}
	}
	return out
}

func TestApplyStrip(t *testing.T) {
	got := Apply("  hello  \n", chain(Strip), "")
	if got != "hello" {
		t.Errorf("strip = %q", got)
	}
}

func TestApplyToFloat(t *testing.T) {
	got := Apply(" 19.99 ", chain(ToFloat), "")
	if got != 19.99 {
		t.Errorf("to_float = %v", got)
	}
}

func TestApplyToIntParsesThroughFloat(t *testing.T) {
	got := Apply("12.0", chain(ToInt), "")
	if got != 12 {
		t.Errorf("to_int(\"12.0\") = %v (%T)", got, got)
	}
}

func TestApplyToIntInvalidLeavesValue(t *testing.T) {
	got := Apply("twelve", chain(ToInt), "")
	if got != "twelve" {
		t.Errorf("failed step should leave value unchanged, got %v", got)
	}
}

func TestApplyRegexCaptureGroup(t *testing.T) {
	tr := []config.Transformer{{Name: Regex, Args: []any{`\$([0-9.]+)`}}}
	got := Apply("price: $42.50", tr, "")
	if got != "42.50" {
		t.Errorf("regex group = %v", got)
	}
}

func TestApplyRegexFullMatchWithoutGroup(t *testing.T) {
	tr := []config.Transformer{{Name: Regex, Args: []any{`[0-9]+`}}}
	got := Apply("abc123def", tr, "")
	if got != "123" {
		t.Errorf("regex full match = %v", got)
	}
}

func TestApplyRegexNoMatchYieldsNil(t *testing.T) {
	tr := []config.Transformer{{Name: Regex, Args: []any{`[0-9]+`}}}
	if got := Apply("no digits here", tr, ""); got != nil {
		t.Errorf("expected nil on no match, got %v", got)
	}
}

func TestApplyReplace(t *testing.T) {
	tr := []config.Transformer{{Name: Replace, Args: []any{",", ""}}}
	got := Apply("1,234,567", tr, "")
	if got != "1234567" {
		t.Errorf("replace = %v", got)
	}
}

func TestApplyToAbsoluteURL(t *testing.T) {
	got := Apply("/book/42", chain(ToAbsoluteURL), "http://h/catalog/page1")
	if got != "http://h/book/42" {
		t.Errorf("to_absolute_url = %v", got)
	}
}

func TestApplyChainOrder(t *testing.T) {
	tr := []config.Transformer{
		{Name: Strip},
		{Name: Regex, Args: []any{`\$([0-9,]+)`}},
		{Name: Replace, Args: []any{",", ""}},
		{Name: ToInt},
	}
	got := Apply("  $1,299  ", tr, "")
	if got != 1299 {
		t.Errorf("chained = %v (%T)", got, got)
	}
}

func TestApplyNilPassesThrough(t *testing.T) {
	if got := Apply(nil, chain(Strip, ToFloat), ""); got != nil {
		t.Errorf("nil input = %v", got)
	}
}
