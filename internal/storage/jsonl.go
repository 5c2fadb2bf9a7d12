package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/glider-scraper/glider/internal/types"
)

// JSONLSink appends records to a newline-delimited JSON stream file. Each
// batch is written and fsynced as a unit, so records that were flushed
// survive a crash even mid-run. The file opens in append mode, which is
// what lets a resumed job continue its previous stream.
type JSONLSink struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewJSONLSink opens (or creates) the stream file for appending.
func NewJSONLSink(path string, logger *slog.Logger) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &types.StorageError{Backend: "jsonl", Err: err}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, &types.StorageError{Backend: "jsonl", Err: err}
	}

	return &JSONLSink{
		path:   path,
		file:   f,
		enc:    json.NewEncoder(f),
		logger: logger.With("component", "jsonl_sink"),
	}, nil
}

// Name implements Sink.
func (s *JSONLSink) Name() string { return "jsonl" }

// Path returns the stream file location.
func (s *JSONLSink) Path() string { return s.path }

// Store implements Sink.
func (s *JSONLSink) Store(batch []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range batch {
		if err := s.enc.Encode(record); err != nil {
			return &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("encode record: %w", err)}
		}
	}
	if err := s.file.Sync(); err != nil {
		return &types.StorageError{Backend: "jsonl", Err: fmt.Errorf("fsync: %w", err)}
	}

	s.count += len(batch)
	s.logger.Debug("batch flushed", "count", len(batch), "total", s.count)
	return nil
}

// Count returns the number of records written so far.
func (s *JSONLSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close implements Sink.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	s.logger.Info("stream closed", "path", s.path, "records", s.count)
	err := s.file.Close()
	s.file = nil
	return err
}
