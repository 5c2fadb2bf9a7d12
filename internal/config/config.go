package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Crawl modes.
const (
	ModePagination = "pagination"
	ModeList       = "list"
)

// Response types.
const (
	ResponseHTML = "html"
	ResponseJSON = "json"
)

// Selector kinds.
const (
	SelectorCSS      = "css"
	SelectorXPath    = "xpath"
	SelectorJSONPath = "json_path"
	SelectorRegex    = "regex"
)

// JobConfig is the immutable description of one scrape job.
type JobConfig struct {
	Name         string   `mapstructure:"name"          json:"name"`
	Mode         string   `mapstructure:"mode"          json:"mode"`
	BaseURL      string   `mapstructure:"base_url"      json:"base_url"`
	StartURLs    []string `mapstructure:"start_urls"    json:"start_urls"`
	ResponseType string   `mapstructure:"response_type" json:"response_type"`

	UseBrowser      bool          `mapstructure:"use_playwright"    json:"use_playwright"`
	WaitForSelector string        `mapstructure:"wait_for_selector" json:"wait_for_selector"`
	Interactions    []Interaction `mapstructure:"interactions"      json:"interactions"`

	MinDelay float64           `mapstructure:"min_delay" json:"min_delay"`
	MaxDelay float64           `mapstructure:"max_delay" json:"max_delay"`
	Proxies  []string          `mapstructure:"proxies"   json:"proxies"`
	Headers  map[string]string `mapstructure:"headers"   json:"headers"`

	Authentication *AuthConfig `mapstructure:"authentication" json:"authentication"`

	Concurrency      int     `mapstructure:"concurrency"        json:"concurrency"`
	RateLimit        int     `mapstructure:"rate_limit"         json:"rate_limit"`
	RespectRobotsTxt bool    `mapstructure:"respect_robots_txt" json:"respect_robots_txt"`
	UseCheckpointing bool    `mapstructure:"use_checkpointing"  json:"use_checkpointing"`
	RequestTimeout   float64 `mapstructure:"request_timeout"    json:"request_timeout"`
	MaxNestedURLs    int     `mapstructure:"max_nested_urls"    json:"max_nested_urls"`
	CookiesFile      string  `mapstructure:"cookies_file"       json:"cookies_file"`
	BatchSize        int     `mapstructure:"batch_size"         json:"batch_size"`
	DataDir          string  `mapstructure:"data_dir"           json:"data_dir"`

	// Optional secondary sink: batches mirror into MongoDB when a URI is
	// set, in addition to the JSONL stream.
	MongoURI        string `mapstructure:"mongo_uri"        json:"mongo_uri,omitempty"`
	MongoDatabase   string `mapstructure:"mongo_database"   json:"mongo_database,omitempty"`
	MongoCollection string `mapstructure:"mongo_collection" json:"mongo_collection,omitempty"`

	Fields     []*FieldSpec    `mapstructure:"fields"     json:"fields"`
	Pagination *PaginationSpec `mapstructure:"pagination" json:"pagination"`
}

// FieldSpec is one node of the recursive extraction tree.
type FieldSpec struct {
	Name      string     `mapstructure:"name"      json:"name"`
	Selector  *Selector  `mapstructure:"selector"  json:"selector,omitempty"`
	Selectors []Selector `mapstructure:"selectors" json:"selectors,omitempty"`

	IsList       bool          `mapstructure:"is_list"      json:"is_list"`
	Attribute    string        `mapstructure:"attribute"    json:"attribute,omitempty"`
	Transformers []Transformer `mapstructure:"transformers" json:"transformers,omitempty"`

	Children []*FieldSpec `mapstructure:"children" json:"children,omitempty"`

	FollowURL    bool         `mapstructure:"follow_url"    json:"follow_url"`
	NestedFields []*FieldSpec `mapstructure:"nested_fields" json:"nested_fields,omitempty"`
}

// Selector pairs a selector kind with its expression.
type Selector struct {
	Type  string `mapstructure:"type"  json:"type"`
	Value string `mapstructure:"value" json:"value"`
}

// Transformer names one transformation step with optional arguments.
type Transformer struct {
	Name string `mapstructure:"name" json:"name"`
	Args []any  `mapstructure:"args" json:"args,omitempty"`
}

// PaginationSpec drives the sequential page-chain loop. Selector supports the
// "expr@attr" shorthand; the attribute defaults to href.
type PaginationSpec struct {
	Selector string `mapstructure:"selector"  json:"selector"`
	MaxPages int    `mapstructure:"max_pages" json:"max_pages"`
}

// Interaction is one step of the fixed browser interaction vocabulary.
type Interaction struct {
	Type     string `mapstructure:"type"     json:"type"`
	Selector string `mapstructure:"selector" json:"selector,omitempty"`
	Value    string `mapstructure:"value"    json:"value,omitempty"`
	Duration int    `mapstructure:"duration" json:"duration,omitempty"` // milliseconds
}

// Interaction types.
const (
	InteractionWait     = "wait"
	InteractionScroll   = "scroll"
	InteractionClick    = "click"
	InteractionFill     = "fill"
	InteractionPress    = "press"
	InteractionHover    = "hover"
	InteractionKeyPress = "key_press"
)

// AuthConfig describes OAuth settings for the job.
type AuthConfig struct {
	Type         string `mapstructure:"type"          json:"type"` // "password" or "bearer"
	TokenURL     string `mapstructure:"token_url"     json:"token_url,omitempty"`
	ClientID     string `mapstructure:"client_id"     json:"client_id,omitempty"`
	ClientSecret string `mapstructure:"client_secret" json:"client_secret,omitempty"`
	Username     string `mapstructure:"username"      json:"username,omitempty"`
	Password     string `mapstructure:"password"      json:"password,omitempty"`
	Scope        string `mapstructure:"scope"         json:"scope,omitempty"`
	Token        string `mapstructure:"token"         json:"token,omitempty"` // static bearer
}

// DefaultJobConfig returns a JobConfig with engine defaults applied.
func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Mode:           ModePagination,
		ResponseType:   ResponseHTML,
		MinDelay:       1,
		MaxDelay:       3,
		Concurrency:    5,
		RateLimit:      5,
		RequestTimeout: 15,
		MaxNestedURLs:  10,
		BatchSize:      10,
		DataDir:        "data",
	}
}

// Timeout returns the per-request timeout as a duration.
func (c *JobConfig) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.RequestTimeout * float64(time.Second))
}

// Slug returns the job name in filesystem-safe form.
func (c *JobConfig) Slug() string {
	s := strings.ToLower(strings.TrimSpace(c.Name))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}

// Per-job state paths are derived from the slug so multiple engines in one
// process never share files.

// BloomPath is where the seen-set bit array persists.
func (c *JobConfig) BloomPath() string {
	return filepath.Join(c.DataDir, c.Slug()+".bloom")
}

// CheckpointPath is the per-job checkpoint database file.
func (c *JobConfig) CheckpointPath() string {
	return filepath.Join(c.DataDir, c.Slug()+".db")
}

// StreamPath is the temporary JSONL stream the default sink appends to.
func (c *JobConfig) StreamPath() string {
	return filepath.Join(c.DataDir, c.Slug()+"_stream.jsonl")
}

// Normalize resolves shorthand forms in place: single selectors are merged
// into the selectors list, untyped selectors become css, and pagination gets
// a max_pages floor of 1.
func (c *JobConfig) Normalize() {
	for _, f := range c.Fields {
		normalizeField(f)
	}
	if c.Pagination != nil && c.Pagination.MaxPages < 1 {
		c.Pagination.MaxPages = 1
	}
	if c.MaxDelay < c.MinDelay {
		c.MaxDelay = c.MinDelay
	}
}

func normalizeField(f *FieldSpec) {
	if f.Selector != nil {
		f.Selectors = append([]Selector{*f.Selector}, f.Selectors...)
		f.Selector = nil
	}
	for i := range f.Selectors {
		if f.Selectors[i].Type == "" {
			f.Selectors[i].Type = SelectorCSS
		}
	}
	for _, child := range f.Children {
		normalizeField(child)
	}
	for _, nested := range f.NestedFields {
		normalizeField(nested)
	}
}

// SplitSelectorAttr splits the "expr@attr" pagination shorthand. The
// attribute defaults to href.
func SplitSelectorAttr(expr string) (selector, attr string) {
	if idx := strings.LastIndex(expr, "@"); idx > 0 {
		return expr[:idx], expr[idx+1:]
	}
	return expr, "href"
}
