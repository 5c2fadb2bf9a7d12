package bloom

// RecentLRU is a bounded exact-membership ring of the most recently added
// hashes. The batcher consults it when the Bloom filter reports a hit: a
// hash in the filter but absent here is treated as a suspected false
// positive and the record is kept.
//
// Not safe for concurrent use; guarded by the engine's data lock.
type RecentLRU struct {
	ring  []string
	index map[string]int // hash -> slot
	next  int
	full  bool
}

// NewRecentLRU creates a ring with the given capacity.
func NewRecentLRU(capacity int) *RecentLRU {
	if capacity < 1 {
		capacity = 1
	}
	return &RecentLRU{
		ring:  make([]string, capacity),
		index: make(map[string]int, capacity),
	}
}

// Push records a hash, evicting the oldest entry once the ring is full.
func (l *RecentLRU) Push(hash string) {
	if _, ok := l.index[hash]; ok {
		// Already tracked; leave it in its slot.
		return
	}
	if l.full || l.ring[l.next] != "" {
		delete(l.index, l.ring[l.next])
	}
	l.ring[l.next] = hash
	l.index[hash] = l.next
	l.next++
	if l.next == len(l.ring) {
		l.next = 0
		l.full = true
	}
}

// Contains reports whether the hash is inside the window.
func (l *RecentLRU) Contains(hash string) bool {
	_, ok := l.index[hash]
	return ok
}

// Len returns the number of tracked hashes.
func (l *RecentLRU) Len() int { return len(l.index) }

// Capacity returns the ring size.
func (l *RecentLRU) Capacity() int { return len(l.ring) }
