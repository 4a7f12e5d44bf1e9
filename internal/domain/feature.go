package domain

import "time"

// MagnitudeBucket is a discrete magnitude class derived from the configured
// thresholds.
type MagnitudeBucket string

const (
	MagnitudeUnknown  MagnitudeBucket = "unknown"
	MagnitudeMinor    MagnitudeBucket = "minor"
	MagnitudeLight    MagnitudeBucket = "light"
	MagnitudeModerate MagnitudeBucket = "moderate"
	MagnitudeStrong   MagnitudeBucket = "strong"
	MagnitudeMajor    MagnitudeBucket = "major"
)

// magnitudeRank orders buckets for threshold comparisons. Unknown ranks below
// every measured bucket so it never satisfies an "at least" check.
var magnitudeRank = map[MagnitudeBucket]int{
	MagnitudeUnknown:  0,
	MagnitudeMinor:    1,
	MagnitudeLight:    2,
	MagnitudeModerate: 3,
	MagnitudeStrong:   4,
	MagnitudeMajor:    5,
}

// AtLeast reports whether b ranks at or above other. An unknown bucket is
// never at least a measured one.
func (b MagnitudeBucket) AtLeast(other MagnitudeBucket) bool {
	if b == MagnitudeUnknown {
		return false
	}
	return magnitudeRank[b] >= magnitudeRank[other]
}

// RecencyBucket classifies how recently an event was observed relative to the
// cycle clock.
type RecencyBucket string

const (
	RecencyPastHour RecencyBucket = "past_hour"
	RecencyPastDay  RecencyBucket = "past_day"
	RecencyPastWeek RecencyBucket = "past_week"
	RecencyOlder    RecencyBucket = "older"
)

// DepthBucket classifies hypocenter depth.
type DepthBucket string

const (
	DepthUnknown      DepthBucket = "unknown"
	DepthShallow      DepthBucket = "shallow"
	DepthIntermediate DepthBucket = "intermediate"
	DepthDeep         DepthBucket = "deep"
	DepthVeryDeep     DepthBucket = "very_deep"
)

// UnclusteredID marks events that carry no coordinates and therefore cannot
// join a spatial cluster.
const UnclusteredID = -1

// EventFeatures holds the per-event derived attributes for one cycle, along
// with the source fields the analysis rules evaluate.
type EventFeatures struct {
	EventID         string          `json:"event_id"`
	ObservedAt      time.Time       `json:"observed_at"`
	Magnitude       *float64        `json:"magnitude,omitempty"`
	Tsunami         bool            `json:"tsunami,omitempty"`
	MagnitudeBucket MagnitudeBucket `json:"magnitude_bucket"`
	RecencyBucket   RecencyBucket   `json:"recency_bucket"`
	DepthBucket     DepthBucket     `json:"depth_bucket"`
	ClusterID       int             `json:"cluster_id"`
}

// Cluster is a set of events grouped by spatial and temporal proximity.
// EventIDs are sorted lexicographically for deterministic output.
type Cluster struct {
	ID           int       `json:"id"`
	EventIDs     []string  `json:"event_ids"`
	MaxMagnitude *float64  `json:"max_magnitude,omitempty"`
	LatestAt     time.Time `json:"latest_at"`
}

// WindowAggregates are the window-level statistics computed per cycle.
type WindowAggregates struct {
	TotalEvents         int                     `json:"total_events"`
	CountByMagnitude    map[MagnitudeBucket]int `json:"count_by_magnitude"`
	CountByDepth        map[DepthBucket]int     `json:"count_by_depth"`
	MeanMagnitude       float64                 `json:"mean_magnitude"`
	MaxMagnitude        *float64                `json:"max_magnitude,omitempty"`
	NewEventIDs         []string                `json:"new_event_ids,omitempty"`
	NewEventRatePerHour float64                 `json:"new_event_rate_per_hour"`
}

// DerivedFeatureSet is the Transform Engine's complete output for one cycle.
// It is recomputed from scratch every cycle and never persisted.
type DerivedFeatureSet struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Events      []EventFeatures  `json:"events"`
	Clusters    []Cluster        `json:"clusters"`
	Aggregates  WindowAggregates `json:"aggregates"`
}
