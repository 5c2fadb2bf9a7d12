package types

// Stats event types emitted by the engine.
const (
	EventPageSuccess  = "page_success"
	EventPageError    = "page_error"
	EventPageSkipped  = "page_skipped"
	EventBlocked      = "blocked"
	EventEntriesAdded = "entries_added"
)

// StatsEvent is a single counter update emitted sideways to the observer.
type StatsEvent struct {
	EventType string         `json:"event_type"`
	Count     int            `json:"count"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StatsFunc receives stats events. It may be called from worker goroutines
// and must be safe for concurrent use.
type StatsFunc func(ev StatsEvent)

// SinkFunc receives one combined batch of records. The callback must not
// retain or mutate the batch beyond the call.
type SinkFunc func(batch []Record) error
