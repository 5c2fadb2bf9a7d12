package engine

import (
	"log/slog"
	"sync"

	"github.com/glider-scraper/glider/internal/bloom"
	"github.com/glider-scraper/glider/internal/storage"
	"github.com/glider-scraper/glider/internal/types"
)

// Batcher collects deduplicated records and flushes them to the sink in
// batches. One mutex guards the seen-set, the recent LRU, the pending batch
// and the FP counter together; sink I/O always happens outside the lock on
// a detached batch.
type Batcher struct {
	mu           sync.Mutex
	seen         *bloom.SeenSet
	recent       *bloom.RecentLRU
	pending      []types.Record
	batchSize    int
	sink         storage.Sink
	suspectedFPs int
	emitted      int
	stats        types.StatsFunc
	logger       *slog.Logger
}

// NewBatcher wires the deduper to the sink.
func NewBatcher(seen *bloom.SeenSet, recent *bloom.RecentLRU, sink storage.Sink, batchSize int, stats types.StatsFunc, logger *slog.Logger) *Batcher {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Batcher{
		seen:      seen,
		recent:    recent,
		batchSize: batchSize,
		sink:      sink,
		stats:     stats,
		logger:    logger.With("component", "batcher"),
	}
}

// Merge runs one record through the dedup policy and appends it to the
// pending batch. A record whose hash is in the Bloom set but not in the
// recent LRU is kept as a suspected false positive; one that is in both is
// a confirmed duplicate and dropped.
func (b *Batcher) Merge(record types.Record) error {
	if record.IsEmpty() {
		return nil
	}
	hash := record.CanonicalHash()

	b.mu.Lock()
	if b.seen.Contains(hash) {
		if b.recent.Contains(hash) {
			b.mu.Unlock()
			b.logger.Debug("duplicate record dropped", "hash", hash[:12])
			return nil
		}
		b.suspectedFPs++
		b.recent.Push(hash)
	} else {
		b.seen.Add(hash)
		b.recent.Push(hash)
	}
	b.pending = append(b.pending, record)

	var detached []types.Record
	if len(b.pending) >= b.batchSize {
		detached = b.pending
		b.pending = nil
	}
	b.mu.Unlock()

	if detached != nil {
		return b.flush(detached)
	}
	return nil
}

// FlushRemaining emits whatever is pending. Called on normal completion and
// on cancellation.
func (b *Batcher) FlushRemaining() error {
	b.mu.Lock()
	detached := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(detached) == 0 {
		return nil
	}
	return b.flush(detached)
}

func (b *Batcher) flush(batch []types.Record) error {
	if err := b.sink.Store(batch); err != nil {
		b.logger.Error("sink flush failed", "count", len(batch), "error", err)
		return err
	}
	b.mu.Lock()
	b.emitted += len(batch)
	b.mu.Unlock()

	if b.stats != nil {
		b.stats(types.StatsEvent{EventType: types.EventEntriesAdded, Count: len(batch)})
	}
	return nil
}

// Emitted returns the number of records flushed to the sink.
func (b *Batcher) Emitted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitted
}

// SuspectedFPs returns how many records were kept despite a Bloom hit.
func (b *Batcher) SuspectedFPs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suspectedFPs
}
