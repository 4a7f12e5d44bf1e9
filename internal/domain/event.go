package domain

import "time"

// Location holds WGS-84 coordinates and hypocenter depth in kilometers.
// Nil fields mean the source omitted (or failed validation on) the value;
// absence is distinct from zero.
type Location struct {
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
	DepthKm *float64 `json:"depth_km,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// RawEvent is one feed feature after boundary validation, before ingestion.
type RawEvent struct {
	ID              string
	ObservedAt      time.Time
	SourceUpdatedAt time.Time
	Magnitude       *float64
	Location        Location
	Place           string
	Status          string
	Tsunami         bool
}

// FeedPayload is the result of one successful feed fetch.
type FeedPayload struct {
	Events []RawEvent
	// Skipped counts individual features dropped during parsing
	// (missing id, missing origin time, malformed geometry).
	Skipped int
	// GeneratedAt is the feed document's own generation timestamp,
	// zero when the feed omits it.
	GeneratedAt time.Time
}

// EventRecord is the stored form of a feed event. Immutable once ingested
// except for the revisable fields (magnitude, location, place, status,
// tsunami) and the LastSeenAt bookkeeping timestamp. ID and ObservedAt never
// change for a live record.
type EventRecord struct {
	ID              string    `json:"id"`
	ObservedAt      time.Time `json:"observed_at"`
	SourceUpdatedAt time.Time `json:"source_updated_at"`
	Magnitude       *float64  `json:"magnitude,omitempty"`
	Location        Location  `json:"location"`
	Place           string    `json:"place,omitempty"`
	Status          string    `json:"status,omitempty"`
	Tsunami         bool      `json:"tsunami,omitempty"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}
