package config

import (
	"fmt"
	"net/url"
)

// Validate checks the job config for invalid values. It runs once, before
// the engine is constructed; the config is immutable afterwards.
func Validate(cfg *JobConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch cfg.Mode {
	case ModePagination:
		if cfg.BaseURL == "" {
			return fmt.Errorf("pagination mode requires base_url")
		}
		if err := ValidateURL(cfg.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
	case ModeList:
		for _, u := range cfg.StartURLs {
			if err := ValidateURL(u); err != nil {
				return fmt.Errorf("invalid start_url %q: %w", u, err)
			}
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModePagination, ModeList, cfg.Mode)
	}

	if cfg.ResponseType != ResponseHTML && cfg.ResponseType != ResponseJSON {
		return fmt.Errorf("response_type must be %q or %q, got %q", ResponseHTML, ResponseJSON, cfg.ResponseType)
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("concurrency must be >= 1, got %d", cfg.Concurrency)
	}
	if cfg.Concurrency > 1000 {
		return fmt.Errorf("concurrency must be <= 1000, got %d", cfg.Concurrency)
	}
	if cfg.RateLimit < 1 {
		return fmt.Errorf("rate_limit must be >= 1, got %d", cfg.RateLimit)
	}
	if cfg.MinDelay < 0 || cfg.MaxDelay < cfg.MinDelay {
		return fmt.Errorf("delays must satisfy 0 <= min_delay <= max_delay")
	}
	if cfg.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0")
	}
	if cfg.MaxNestedURLs < 0 {
		return fmt.Errorf("max_nested_urls must be >= 0, got %d", cfg.MaxNestedURLs)
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", cfg.BatchSize)
	}

	if cfg.Pagination != nil {
		if cfg.Pagination.Selector == "" {
			return fmt.Errorf("pagination.selector is required")
		}
		if cfg.Pagination.MaxPages < 1 {
			return fmt.Errorf("pagination.max_pages must be >= 1, got %d", cfg.Pagination.MaxPages)
		}
	}

	for _, p := range cfg.Proxies {
		if _, err := url.Parse(p); err != nil {
			return fmt.Errorf("invalid proxy URL %q: %w", p, err)
		}
	}

	if auth := cfg.Authentication; auth != nil {
		switch auth.Type {
		case "password":
			if auth.TokenURL == "" || auth.Username == "" {
				return fmt.Errorf("password authentication requires token_url and username")
			}
		case "bearer":
			if auth.Token == "" {
				return fmt.Errorf("bearer authentication requires token")
			}
		default:
			return fmt.Errorf("authentication.type must be 'password' or 'bearer', got %q", auth.Type)
		}
	}

	if len(cfg.Fields) == 0 {
		return fmt.Errorf("at least one field is required")
	}
	for _, f := range cfg.Fields {
		if err := validateField(f); err != nil {
			return err
		}
	}

	return nil
}

func validateField(f *FieldSpec) error {
	if f.Name == "" {
		return fmt.Errorf("every field needs a name")
	}
	if len(f.Selectors) == 0 {
		return fmt.Errorf("field %q has no selectors", f.Name)
	}
	for _, s := range f.Selectors {
		switch s.Type {
		case SelectorCSS, SelectorXPath, SelectorJSONPath, SelectorRegex:
		default:
			return fmt.Errorf("field %q: unknown selector type %q", f.Name, s.Type)
		}
		if s.Value == "" {
			return fmt.Errorf("field %q: empty selector expression", f.Name)
		}
	}
	if f.FollowURL && len(f.NestedFields) == 0 {
		return fmt.Errorf("field %q: follow_url requires nested_fields", f.Name)
	}
	for _, child := range f.Children {
		if err := validateField(child); err != nil {
			return err
		}
	}
	for _, nested := range f.NestedFields {
		if err := validateField(nested); err != nil {
			return err
		}
	}
	return nil
}

// ValidateURL checks that a URL is fetchable by the engine.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
