// Package domain models USGS earthquake feed data and the derived
// analytical types produced by each refresh cycle.
//
// # Data Source
//
// Events originate from the USGS real-time GeoJSON summary feeds, e.g.
// https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson.
// Each feed document is a GeoJSON FeatureCollection; one feature maps to one
// [RawEvent]. The feed is append-only in spirit, but individual events are
// revised in place as analysts review them.
//
// # USGS Feed Conventions
//
// Identity and revision:
//
//	"id" is a stable network-assigned identifier (e.g. "us7000abcd") and is
//	the deduplication key. "properties.updated" is the source's last-modified
//	timestamp; a later value for the same id means magnitude, coordinates, or
//	review status were revised. "properties.time" (the origin time) is the
//	ordering key and never changes once ingested.
//
// Timestamps:
//
//	"time" and "updated" are milliseconds since the Unix epoch, UTC.
//
// Geometry:
//
//	"geometry.coordinates" is [longitude, latitude, depth]. Depth is in
//	kilometers. Coordinates may be missing for some event types; a missing
//	or out-of-range coordinate is treated as unknown, never as 0.
//
// Magnitude:
//
//	"properties.mag" may be null while an event awaits review. Unknown
//	magnitude is modelled as a nil pointer and lands in the "unknown"
//	magnitude bucket, which threshold rules skip.
//
// Review status and tsunami flag:
//
//	"properties.status" is "automatic" or "reviewed". "properties.tsunami"
//	is 1 when the event generated a tsunami message, 0 otherwise.
//
// # Buckets
//
// Continuous values are discretized for analysis:
//
//	Magnitude: minor | light | moderate | strong | major, split at the four
//	  configured thresholds (defaults 2.5, 4.5, 6.0, 7.0, loosely following
//	  the USGS magnitude classes).
//	Recency:   past_hour | past_day | past_week | older, relative to the
//	  cycle's clock reading.
//	Depth:     shallow (<10 km) | intermediate (<50 km) | deep (<200 km) |
//	  very_deep (>=200 km) | unknown.
package domain
