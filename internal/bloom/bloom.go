// Package bloom implements the memory-bounded probabilistic seen-set used
// for record deduplication, plus the exact recent-hash ring that
// disambiguates suspected false positives.
package bloom

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// SeenSet is a fixed-size Bloom filter. contains(x)=false means x was never
// added; contains(x)=true means x was probably added, with a false-positive
// probability close to the configured error rate.
//
// SeenSet is not safe for concurrent use; the engine guards it with its
// data lock.
type SeenSet struct {
	capacity  int
	errorRate float64
	bitSize   int
	hashCount int
	bits      []byte
	itemCount int
}

// New creates a SeenSet sized for the expected capacity and error rate.
// Geometry: m = ceil(-n*ln(p)/ln(2)^2), k = ceil((m/n)*ln(2)).
func New(capacity int, errorRate float64) *SeenSet {
	if capacity < 1 {
		capacity = 1
	}
	if errorRate <= 0 || errorRate >= 1 {
		errorRate = 0.001
	}

	m := int(math.Ceil(-float64(capacity) * math.Log(errorRate) / (math.Ln2 * math.Ln2)))
	k := int(math.Ceil(float64(m) / float64(capacity) * math.Ln2))

	return &SeenSet{
		capacity:  capacity,
		errorRate: errorRate,
		bitSize:   m,
		hashCount: k,
		bits:      make([]byte, (m+7)/8),
	}
}

// Add inserts an item.
func (s *SeenSet) Add(item string) {
	for i := 0; i < s.hashCount; i++ {
		s.setBit(s.hash(item, i))
	}
	s.itemCount++
}

// Contains reports whether the item was probably added. A false return is
// definitive.
func (s *SeenSet) Contains(item string) bool {
	for i := 0; i < s.hashCount; i++ {
		if !s.getBit(s.hash(item, i)) {
			return false
		}
	}
	return true
}

// Count returns the number of items added.
func (s *SeenSet) Count() int { return s.itemCount }

// MemoryBytes returns the size of the bit array.
func (s *SeenSet) MemoryBytes() int { return len(s.bits) }

// hash derives a bit index from SHA256("item:seed").
func (s *SeenSet) hash(item string, seed int) int {
	digest := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", item, seed)))
	v := binary.BigEndian.Uint64(digest[:8])
	return int(v % uint64(s.bitSize))
}

func (s *SeenSet) setBit(idx int) {
	s.bits[idx/8] |= 1 << (idx % 8)
}

func (s *SeenSet) getBit(idx int) bool {
	return s.bits[idx/8]&(1<<(idx%8)) != 0
}

// Save writes the raw bit array to path.
func (s *SeenSet) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bloom dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, s.bits, 0o644); err != nil {
		return fmt.Errorf("write bloom file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename bloom file: %w", err)
	}
	return nil
}

// Load restores the bit array from path. A missing file is not an error.
// A size mismatch means capacity or error rate changed since the file was
// written; the file is ignored and the filter starts fresh.
func (s *SeenSet) Load(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read bloom file: %w", err)
	}
	if len(data) != len(s.bits) {
		return false, nil
	}
	copy(s.bits, data)
	return true, nil
}
