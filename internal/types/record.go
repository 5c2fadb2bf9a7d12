package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Record is one extracted document's result: a mapping from field name to
// value. Values are scalars, lists, or nested records (for child fields).
type Record map[string]any

// NewRecord creates an empty Record.
func NewRecord() Record {
	return make(Record)
}

// IsEmpty returns true if the record has no fields or every value is nil.
func (r Record) IsEmpty() bool {
	for _, v := range r {
		if v != nil {
			return false
		}
	}
	return true
}

// CanonicalHash returns a stable content hash of the record.
// encoding/json emits map keys in sorted order, so marshaling the record
// yields a canonical byte form; two records with the same fields and values
// always hash identically.
func (r Record) CanonicalHash() string {
	b, err := json.Marshal(r)
	if err != nil {
		// Unmarshalable values (channels etc.) never occur in extracted data;
		// fall back to an empty-object hash rather than panic.
		b = []byte("{}")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Clone creates a shallow copy of the record's top level.
func (r Record) Clone() Record {
	clone := make(Record, len(r))
	for k, v := range r {
		clone[k] = v
	}
	return clone
}
