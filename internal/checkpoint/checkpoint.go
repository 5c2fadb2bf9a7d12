// Package checkpoint persists per-URL crawl status so an interrupted job can
// resume without re-fetching finished pages.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	job_name  TEXT NOT NULL,
	url_hash  TEXT NOT NULL,
	url       TEXT NOT NULL,
	status    TEXT NOT NULL,
	timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (job_name, url_hash)
);`

// URL statuses.
const (
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Entry is one row of the checkpoint table.
type Entry struct {
	JobName   string    `db:"job_name"`
	URLHash   string    `db:"url_hash"`
	URL       string    `db:"url"`
	Status    string    `db:"status"`
	Timestamp time.Time `db:"timestamp"`
}

// Store is a durable per-URL status log scoped by job name. A long-lived
// WAL-mode connection serializes commits; done-lookups are answered from an
// in-memory set and never touch disk.
type Store struct {
	jobName string
	path    string
	enabled bool
	db      *sqlx.DB
	mu      sync.RWMutex
	done    map[string]struct{}
	logger  *slog.Logger
}

// Open creates (or reopens) the checkpoint database for a job and loads the
// done-set into memory. If the store cannot be initialized, checkpointing is
// disabled for the run and the returned Store is a no-op.
func Open(jobName, path string, enabled bool, logger *slog.Logger) *Store {
	s := &Store{
		jobName: jobName,
		path:    path,
		enabled: enabled,
		done:    make(map[string]struct{}),
		logger:  logger.With("component", "checkpoint"),
	}
	if !enabled {
		return s
	}

	if err := s.init(); err != nil {
		s.logger.Error("checkpoint init failed, checkpointing disabled", "error", err)
		s.enabled = false
	}
	return s
}

func (s *Store) init() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	db, err := sqlx.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("open checkpoint db: %w", err)
	}

	// One writer connection; WAL lets the reader side proceed while a
	// commit is in flight.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("create checkpoint table: %w", err)
	}

	var done []string
	err = db.Select(&done,
		"SELECT url FROM checkpoints WHERE job_name = ? AND status = ?",
		s.jobName, StatusDone)
	if err != nil {
		db.Close()
		return fmt.Errorf("load done set: %w", err)
	}
	for _, u := range done {
		s.done[u] = struct{}{}
	}

	s.db = db
	s.logger.Info("checkpoint loaded", "done_urls", len(s.done), "path", s.path)
	return nil
}

// Enabled reports whether the store is active.
func (s *Store) Enabled() bool { return s.enabled }

// IsDone answers from memory; it never touches disk.
func (s *Store) IsDone(url string) bool {
	if !s.enabled {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.done[url]
	return ok
}

// MarkInProgress upserts the URL with in_progress status. It must be called
// before the fetch is issued so a crash leaves the URL recoverable. Disk
// errors are logged and swallowed: losing progress is acceptable, losing
// records is not.
func (s *Store) MarkInProgress(url string) {
	if !s.enabled {
		return
	}
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (job_name, url_hash, url, status, timestamp)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(job_name, url_hash)
		DO UPDATE SET status = excluded.status, timestamp = CURRENT_TIMESTAMP`,
		s.jobName, hashURL(url), url, StatusInProgress)
	if err != nil {
		s.logger.Warn("checkpoint write failed", "url", url, "error", err)
	}
}

// MarkDone flips the URL to done and records it in the in-memory set. Called
// only after successful extraction and handoff to the batcher.
func (s *Store) MarkDone(url string) {
	if !s.enabled {
		return
	}
	s.mu.Lock()
	s.done[url] = struct{}{}
	s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE checkpoints SET status = ?, timestamp = CURRENT_TIMESTAMP
		WHERE job_name = ? AND url_hash = ?`,
		StatusDone, s.jobName, hashURL(url))
	if err != nil {
		s.logger.Warn("checkpoint write failed", "url", url, "error", err)
	}
}

// Incomplete returns the URLs whose status is still in_progress: exactly
// those whose work was not known to have succeeded before a crash.
func (s *Store) Incomplete() []string {
	if !s.enabled {
		return nil
	}
	var urls []string
	err := s.db.Select(&urls,
		"SELECT url FROM checkpoints WHERE job_name = ? AND status = ?",
		s.jobName, StatusInProgress)
	if err != nil {
		s.logger.Warn("checkpoint read failed", "error", err)
		return nil
	}
	return urls
}

// DoneCount returns the size of the in-memory done-set.
func (s *Store) DoneCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.done)
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:16])
}
