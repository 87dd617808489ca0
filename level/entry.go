package level

import "time"

// Entry is the metadata a level keeps alongside each embedding.
type Entry[T any] struct {
	Key       string    `json:"key"`
	Payload   T         `json:"payload"`
	Surprise  float64   `json:"surprise"`
	WriteStep int64     `json:"write_step"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats are the counters a level maintains.
type Stats struct {
	TotalEncodes    int64   `json:"total_encodes"`
	TotalUpdates    int64   `json:"total_updates"`
	TotalRetrievals int64   `json:"total_retrievals"`
	AvgSurprise     float64 `json:"avg_surprise"` // mean over accepted updates
	LastUpdateStep  int64   `json:"last_update_step"`
	MemorySize      int     `json:"memory_size"`
}

// WriteResult reports the outcome of a write so callers holding a secondary
// index can mirror it.
type WriteResult struct {
	Accepted  bool
	Embedding []float32
	Evicted   []string
}

// Recovered is an embedding reloaded from a persistence backend.
type Recovered struct {
	Key       string
	Embedding []float32
}

// record is the persisted form of an entry.
type record[T any] struct {
	Entry     Entry[T]  `json:"entry"`
	Embedding []float32 `json:"embedding"`
	Seq       uint64    `json:"seq"`
}
