package domain

import "time"

// CycleStats are the per-cycle observability counters carried on a snapshot.
type CycleStats struct {
	Fetched         int `json:"fetched"`
	Skipped         int `json:"skipped"`
	Added           int `json:"added"`
	Revised         int `json:"revised"`
	Unchanged       int `json:"unchanged"`
	Evicted         int `json:"evicted"`
	Recommendations int `json:"recommendations"`
}

// Snapshot is the atomic publication unit of one cycle. It is immutable once
// published; the orchestrator replaces it wholesale, so a reader holding an
// old snapshot keeps a complete, internally consistent view.
type Snapshot struct {
	Events          []EventRecord     `json:"events"`
	Derived         DerivedFeatureSet `json:"derived_features"`
	Recommendations []Recommendation  `json:"recommendations"`
	CycleTime       time.Time         `json:"cycle_time"`
	Sequence        uint64            `json:"cycle_sequence"`
	Stats           CycleStats        `json:"stats"`
}
