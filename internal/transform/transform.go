// Package transform applies the declarative transformer chain to extracted
// string values.
package transform

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/glider-scraper/glider/internal/config"
)

// Transformer names.
const (
	Strip         = "strip"
	ToFloat       = "to_float"
	ToInt         = "to_int"
	Regex         = "regex"
	Replace       = "replace"
	ToAbsoluteURL = "to_absolute_url"
)

// Apply runs the chain over a value in declaration order. baseURL anchors
// to_absolute_url resolution. A step that cannot apply (wrong type, bad
// args, failed parse) leaves the value unchanged, matching the resilience
// policy of the extraction layer: a bad transformer never loses a record.
func Apply(value any, chain []config.Transformer, baseURL string) any {
	if value == nil {
		return nil
	}

	for _, t := range chain {
		switch t.Name {
		case Strip:
			if s, ok := value.(string); ok {
				value = strings.TrimSpace(s)
			}
		case ToFloat:
			if f, err := toFloat(value); err == nil {
				value = f
			}
		case ToInt:
			// Parse through float so "12.0" becomes 12.
			if f, err := toFloat(value); err == nil {
				value = int(f)
			}
		case Regex:
			value = applyRegex(value, t.Args)
		case Replace:
			if s, ok := value.(string); ok && len(t.Args) >= 2 {
				old := fmt.Sprint(t.Args[0])
				new_ := fmt.Sprint(t.Args[1])
				value = strings.ReplaceAll(s, old, new_)
			}
		case ToAbsoluteURL:
			if s, ok := value.(string); ok {
				value = resolveURL(baseURL, s)
			}
		}
	}
	return value
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", value)
	}
}

// applyRegex extracts the first capture group (or the full match when the
// pattern has no groups). No match yields nil.
func applyRegex(value any, args []any) any {
	s, ok := value.(string)
	if !ok || len(args) == 0 {
		return value
	}
	pattern, ok := args[0].(string)
	if !ok {
		return value
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return value
	}
	match := re.FindStringSubmatch(s)
	if match == nil {
		return nil
	}
	if len(match) > 1 {
		return match[1]
	}
	return match[0]
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
