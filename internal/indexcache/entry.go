package indexcache

import (
	"encoding/json"
	"time"

	"github.com/pioneerbio/labelcache/internal/spatial"
)

// Entry is one cached file's parsed labels and spatial index.
//
// Labels preserves source order; a label's position in Labels is its ID
// in Tree. Labels lacking extractable geometry are retained in the
// sequence but never inserted into Tree, so queries never synthesize
// them (spec.md §3).
type Entry struct {
	Key              string
	Labels           []json.RawMessage
	Tree             *spatial.Index
	LabelCount       int
	MemoryEstimateMB float64
	LastAccessed     time.Time
}
