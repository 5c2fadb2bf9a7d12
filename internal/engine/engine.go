// Package engine orchestrates one scrape job: it feeds URLs through the
// robots gate, rate limiter and fetcher, extracts records, deduplicates
// them and flushes batches to the sink, checkpointing progress throughout.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/glider-scraper/glider/internal/auth"
	"github.com/glider-scraper/glider/internal/bloom"
	"github.com/glider-scraper/glider/internal/checkpoint"
	"github.com/glider-scraper/glider/internal/config"
	"github.com/glider-scraper/glider/internal/fetcher"
	"github.com/glider-scraper/glider/internal/robots"
	"github.com/glider-scraper/glider/internal/storage"
	"github.com/glider-scraper/glider/internal/types"
)

// Seen-set geometry. Changing either value changes the bit-array size, which
// invalidates any previously saved filter (detected at load, starts fresh).
const (
	seenCapacity  = 100_000
	seenErrorRate = 0.001
	recentWindow  = 1000
)

// Engine runs one configured job to completion.
type Engine struct {
	cfg     *config.JobConfig
	logger  *slog.Logger
	fetch   fetcher.Fetcher
	sink    storage.Sink
	gate    *robots.Gate
	ckpt    *checkpoint.Store
	seen    *bloom.SeenSet
	limiter *rate.Limiter
	tokens  *auth.TokenManager
	batcher *Batcher
	stats   types.StatsFunc

	shutdown atomic.Bool
	cancel   context.CancelFunc

	mu         sync.Mutex
	pages      int
	errored    int
	skipped    int
	blocked    int
	failedURLs []string
}

// Summary is the final accounting for one run.
type Summary struct {
	PagesSucceeded int
	PagesFailed    int
	PagesSkipped   int
	Blocked        int
	EntriesEmitted int
	SuspectedFPs   int
	FailedURLs     []string
	Duration       time.Duration
}

// Option customizes engine construction, mainly for tests.
type Option func(*Engine)

// WithFetcher injects a fetcher instead of building one from config.
func WithFetcher(f fetcher.Fetcher) Option {
	return func(e *Engine) { e.fetch = f }
}

// WithSink injects a sink instead of the default JSONL stream.
func WithSink(s storage.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithStats registers an external stats observer.
func WithStats(fn types.StatsFunc) Option {
	return func(e *Engine) { e.stats = fn }
}

// New builds an engine for the given job. Heavy resources (browser,
// checkpoint DB) are opened in Run, not here.
func New(cfg *config.JobConfig, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		logger:  logger.With("component", "engine", "job", cfg.Name),
		seen:    bloom.New(seenCapacity, seenErrorRate),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		gate:    robots.NewGate(cfg.RespectRobotsTxt, logger),
		tokens:  auth.NewTokenManager(cfg.Authentication, logger),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the job and returns the final summary. The context cancels
// the run cooperatively: the pending batch is flushed and the seen-set
// saved before resources close.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	e.ckpt = checkpoint.Open(e.cfg.Name, e.cfg.CheckpointPath(), e.cfg.UseCheckpointing, e.logger)
	defer e.ckpt.Close()

	if loaded, err := e.seen.Load(e.cfg.BloomPath()); err != nil {
		e.logger.Warn("seen-set load failed, starting fresh", "error", err)
	} else if loaded {
		e.logger.Info("seen-set loaded", "path", e.cfg.BloomPath(), "items", e.seen.Count())
	}

	if e.fetch == nil {
		f, err := e.buildFetcher()
		if err != nil {
			return nil, err
		}
		e.fetch = f
	}
	defer e.fetch.Close()

	if e.sink == nil {
		s, err := e.buildSink()
		if err != nil {
			return nil, err
		}
		e.sink = s
	}
	defer e.sink.Close()

	e.batcher = NewBatcher(e.seen, bloom.NewRecentLRU(recentWindow), e.sink, e.cfg.BatchSize, e.observe, e.logger)

	if e.cfg.BaseURL != "" {
		e.gate.Prefetch(ctx, e.cfg.BaseURL)
	} else if len(e.cfg.StartURLs) > 0 {
		e.gate.Prefetch(ctx, e.cfg.StartURLs[0])
	}

	e.logger.Info("run starting",
		"mode", e.cfg.Mode,
		"fetcher", e.fetch.Type(),
		"concurrency", e.cfg.Concurrency,
		"rate_limit", e.cfg.RateLimit,
		"seen_bytes", e.seen.MemoryBytes(),
	)

	var runErr error
	switch e.cfg.Mode {
	case config.ModePagination:
		runErr = e.runPagination(ctx)
	case config.ModeList:
		runErr = e.runList(ctx)
	default:
		runErr = fmt.Errorf("unknown mode %q", e.cfg.Mode)
	}

	if err := e.batcher.FlushRemaining(); err != nil && runErr == nil {
		runErr = err
	}
	if err := e.seen.Save(e.cfg.BloomPath()); err != nil {
		e.logger.Warn("seen-set save failed", "error", err)
	}

	summary := e.summarize(time.Since(start))
	e.logSummary(summary)
	return summary, runErr
}

// Stop requests cooperative shutdown. Drivers notice at their next loop
// top; Run still flushes and persists before returning.
func (e *Engine) Stop() {
	e.shutdown.Store(true)
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) buildFetcher() (fetcher.Fetcher, error) {
	if e.cfg.UseBrowser {
		return fetcher.NewBrowserFetcher(e.cfg, e.logger)
	}
	return fetcher.NewHTTPFetcher(e.cfg, e.tokens, e.logger)
}

// buildSink always includes the JSONL stream; a configured Mongo URI adds
// a mirror back-end behind a fan-out.
func (e *Engine) buildSink() (storage.Sink, error) {
	jsonl, err := storage.NewJSONLSink(e.cfg.StreamPath(), e.logger)
	if err != nil {
		return nil, err
	}
	if e.cfg.MongoURI == "" {
		return jsonl, nil
	}

	db := e.cfg.MongoDatabase
	if db == "" {
		db = "glider"
	}
	coll := e.cfg.MongoCollection
	if coll == "" {
		coll = e.cfg.Slug()
	}
	mongo, err := storage.NewMongoSink(e.cfg.MongoURI, db, coll, e.logger)
	if err != nil {
		e.logger.Warn("mongodb sink unavailable, JSONL only", "error", err)
		return jsonl, nil
	}
	return storage.NewMultiSink([]storage.Sink{jsonl, mongo}, e.logger), nil
}

// observe updates counters and forwards the event to the external observer.
// Safe to call from any worker.
func (e *Engine) observe(ev types.StatsEvent) {
	e.mu.Lock()
	switch ev.EventType {
	case types.EventPageSuccess:
		e.pages += ev.Count
	case types.EventPageError:
		e.errored += ev.Count
	case types.EventPageSkipped:
		e.skipped += ev.Count
	case types.EventBlocked:
		e.blocked += ev.Count
	}
	e.mu.Unlock()

	if e.stats != nil {
		e.stats(ev)
	}
}

func (e *Engine) recordFailure(url string, err error) {
	e.mu.Lock()
	e.failedURLs = append(e.failedURLs, url)
	e.mu.Unlock()

	e.logger.Error("page failed", "url", url, "error", err)
	e.observe(types.StatsEvent{
		EventType: types.EventPageError,
		Count:     1,
		Metadata:  map[string]any{"url": url},
	})
}

func (e *Engine) summarize(elapsed time.Duration) *Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return &Summary{
		PagesSucceeded: e.pages,
		PagesFailed:    e.errored,
		PagesSkipped:   e.skipped,
		Blocked:        e.blocked,
		EntriesEmitted: e.batcher.Emitted(),
		SuspectedFPs:   e.batcher.SuspectedFPs(),
		FailedURLs:     append([]string(nil), e.failedURLs...),
		Duration:       elapsed,
	}
}

func (e *Engine) logSummary(s *Summary) {
	e.logger.Info("run complete",
		"pages", s.PagesSucceeded,
		"failed", s.PagesFailed,
		"skipped", s.PagesSkipped,
		"blocked", s.Blocked,
		"entries", s.EntriesEmitted,
		"suspected_fps", s.SuspectedFPs,
		"duration", s.Duration.Round(time.Millisecond),
	)
	if len(s.FailedURLs) > 0 {
		head := s.FailedURLs
		if len(head) > 5 {
			head = head[:5]
		}
		e.logger.Debug("failed URLs", "count", len(s.FailedURLs), "first", head)
	}
	if s.SuspectedFPs > 0 {
		e.logger.Info("suspected false positives preserved", "count", s.SuspectedFPs)
	}
}

// saveDebugSnapshot writes the body of a page that failed extraction so the
// selectors can be debugged against the real markup.
func (e *Engine) saveDebugSnapshot(url, body string) {
	if body == "" {
		return
	}
	if err := os.MkdirAll("debug", 0o755); err != nil {
		return
	}
	sum := sha256.Sum256([]byte(url))
	name := filepath.Join("debug", fmt.Sprintf("fail_%d_%s.html", time.Now().Unix(), hex.EncodeToString(sum[:4])))
	if err := os.WriteFile(name, []byte(body), 0o644); err == nil {
		e.logger.Debug("failure snapshot saved", "url", url, "path", name)
	}
}
