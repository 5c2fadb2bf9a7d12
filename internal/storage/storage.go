// Package storage persists extracted record batches.
package storage

import (
	"log/slog"

	"github.com/glider-scraper/glider/internal/types"
)

// Sink is the interface for all storage back-ends.
type Sink interface {
	// Store persists a batch of records.
	Store(batch []types.Record) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the back-end identifier.
	Name() string
}

// MultiSink fans each batch out to several back-ends. Every back-end sees
// every batch; the first error is returned after all have been tried.
type MultiSink struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewMultiSink wraps the given back-ends.
func NewMultiSink(sinks []Sink, logger *slog.Logger) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: logger.With("component", "multi_sink"),
	}
}

// Name implements Sink.
func (s *MultiSink) Name() string { return "multi" }

// Store implements Sink.
func (s *MultiSink) Store(batch []types.Record) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Store(batch); err != nil {
			s.logger.Error("sink store failed", "sink", sink.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close implements Sink.
func (s *MultiSink) Close() error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil {
			s.logger.Error("sink close failed", "sink", sink.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
