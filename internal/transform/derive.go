// Package transform derives per-event and window-level features from an
// ingestion store view. Derivation is a pure function of its input and the
// cycle's now, so identical inputs always produce identical output.
package transform

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/quake-watch-service/internal/domain"
)

// Config holds the derivation parameters, validated at startup.
type Config struct {
	// MagnitudeThresholds are the four ascending breakpoints splitting
	// magnitudes into minor/light/moderate/strong/major.
	MagnitudeThresholds []float64
	// ClusterRadiusKm and ClusterWindow define spatial/temporal proximity:
	// two events within both join the same cluster.
	ClusterRadiusKm float64
	ClusterWindow   time.Duration
	// RateInterval is the trailing interval for the new-event rate,
	// normally the poll interval.
	RateInterval time.Duration
}

func (c Config) validate() error {
	if len(c.MagnitudeThresholds) != 4 {
		return fmt.Errorf("magnitude thresholds: want 4, got %d", len(c.MagnitudeThresholds))
	}
	for i := 1; i < len(c.MagnitudeThresholds); i++ {
		if c.MagnitudeThresholds[i] <= c.MagnitudeThresholds[i-1] {
			return fmt.Errorf("magnitude thresholds must be strictly ascending: %v", c.MagnitudeThresholds)
		}
	}
	if c.ClusterRadiusKm <= 0 {
		return fmt.Errorf("cluster radius must be positive, got %g", c.ClusterRadiusKm)
	}
	if c.ClusterWindow <= 0 || c.RateInterval <= 0 {
		return fmt.Errorf("cluster window and rate interval must be positive")
	}
	return nil
}

// Engine wraps Derive with a fixed configuration.
type Engine struct {
	cfg Config
}

// NewEngine creates a transform engine, rejecting an invalid configuration.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	return &Engine{cfg: cfg}, nil
}

// Derive computes the feature set for the given view at now.
func (e *Engine) Derive(view []domain.EventRecord, now time.Time) (domain.DerivedFeatureSet, error) {
	return derive(view, now, e.cfg), nil
}

// Derive computes per-event buckets, cluster assignments, and window
// aggregates. An empty view yields an empty-but-valid feature set.
func Derive(view []domain.EventRecord, now time.Time, cfg Config) (domain.DerivedFeatureSet, error) {
	if err := cfg.validate(); err != nil {
		return domain.DerivedFeatureSet{}, fmt.Errorf("derive: %w", err)
	}
	return derive(view, now, cfg), nil
}

func derive(view []domain.EventRecord, now time.Time, cfg Config) domain.DerivedFeatureSet {
	derived := domain.DerivedFeatureSet{
		GeneratedAt: now,
		Events:      make([]domain.EventFeatures, 0, len(view)),
		Aggregates: domain.WindowAggregates{
			TotalEvents:      len(view),
			CountByMagnitude: make(map[domain.MagnitudeBucket]int),
			CountByDepth:     make(map[domain.DepthBucket]int),
		},
	}

	clusterIDs := assignClusters(view, cfg)

	var magSum float64
	var magCount int
	for i, rec := range view {
		features := domain.EventFeatures{
			EventID:         rec.ID,
			ObservedAt:      rec.ObservedAt,
			Magnitude:       rec.Magnitude,
			Tsunami:         rec.Tsunami,
			MagnitudeBucket: bucketMagnitude(rec.Magnitude, cfg.MagnitudeThresholds),
			RecencyBucket:   bucketRecency(rec.ObservedAt, now),
			DepthBucket:     bucketDepth(rec.Location.DepthKm),
			ClusterID:       clusterIDs[i],
		}
		derived.Events = append(derived.Events, features)

		derived.Aggregates.CountByMagnitude[features.MagnitudeBucket]++
		derived.Aggregates.CountByDepth[features.DepthBucket]++

		if rec.Magnitude != nil {
			magSum += *rec.Magnitude
			magCount++
			if derived.Aggregates.MaxMagnitude == nil || *rec.Magnitude > *derived.Aggregates.MaxMagnitude {
				mag := *rec.Magnitude
				derived.Aggregates.MaxMagnitude = &mag
			}
		}
		if !rec.ObservedAt.Before(now.Add(-cfg.RateInterval)) && !rec.ObservedAt.After(now) {
			derived.Aggregates.NewEventIDs = append(derived.Aggregates.NewEventIDs, rec.ID)
		}
	}

	if magCount > 0 {
		derived.Aggregates.MeanMagnitude = magSum / float64(magCount)
	}
	sort.Strings(derived.Aggregates.NewEventIDs)
	derived.Aggregates.NewEventRatePerHour =
		float64(len(derived.Aggregates.NewEventIDs)) / cfg.RateInterval.Hours()

	derived.Clusters = buildClusters(view, clusterIDs)

	return derived
}

// assignClusters runs union-find over pairwise proximity. Events without
// coordinates get UnclusteredID. Cluster ids are assigned in view order, so
// the same view always produces the same ids.
func assignClusters(view []domain.EventRecord, cfg Config) []int {
	parent := make([]int, len(view))
	for i := range parent {
		parent[i] = i
	}

	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(i, j int) {
		ri, rj := find(i), find(j)
		if ri != rj {
			parent[rj] = ri
		}
	}

	for i := 0; i < len(view); i++ {
		if !view[i].Location.HasCoordinates() {
			continue
		}
		for j := i + 1; j < len(view); j++ {
			if !view[j].Location.HasCoordinates() {
				continue
			}
			dt := view[i].ObservedAt.Sub(view[j].ObservedAt)
			if dt < 0 {
				dt = -dt
			}
			if dt > cfg.ClusterWindow {
				continue
			}
			dist := haversineKm(
				*view[i].Location.Lat, *view[i].Location.Lon,
				*view[j].Location.Lat, *view[j].Location.Lon,
			)
			if dist <= cfg.ClusterRadiusKm {
				union(i, j)
			}
		}
	}

	ids := make([]int, len(view))
	rootToID := make(map[int]int)
	next := 0
	for i := range view {
		if !view[i].Location.HasCoordinates() {
			ids[i] = domain.UnclusteredID
			continue
		}
		root := find(i)
		id, ok := rootToID[root]
		if !ok {
			id = next
			next++
			rootToID[root] = id
		}
		ids[i] = id
	}
	return ids
}

// buildClusters materializes cluster summaries from the per-event ids.
func buildClusters(view []domain.EventRecord, clusterIDs []int) []domain.Cluster {
	byID := make(map[int]*domain.Cluster)
	for i, rec := range view {
		id := clusterIDs[i]
		if id == domain.UnclusteredID {
			continue
		}
		c, ok := byID[id]
		if !ok {
			c = &domain.Cluster{ID: id}
			byID[id] = c
		}
		c.EventIDs = append(c.EventIDs, rec.ID)
		if rec.Magnitude != nil && (c.MaxMagnitude == nil || *rec.Magnitude > *c.MaxMagnitude) {
			mag := *rec.Magnitude
			c.MaxMagnitude = &mag
		}
		if rec.ObservedAt.After(c.LatestAt) {
			c.LatestAt = rec.ObservedAt
		}
	}

	clusters := make([]domain.Cluster, 0, len(byID))
	for _, c := range byID {
		sort.Strings(c.EventIDs)
		clusters = append(clusters, *c)
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	return clusters
}

func bucketMagnitude(mag *float64, thresholds []float64) domain.MagnitudeBucket {
	if mag == nil {
		return domain.MagnitudeUnknown
	}
	switch m := *mag; {
	case m < thresholds[0]:
		return domain.MagnitudeMinor
	case m < thresholds[1]:
		return domain.MagnitudeLight
	case m < thresholds[2]:
		return domain.MagnitudeModerate
	case m < thresholds[3]:
		return domain.MagnitudeStrong
	default:
		return domain.MagnitudeMajor
	}
}

func bucketRecency(observedAt, now time.Time) domain.RecencyBucket {
	switch age := now.Sub(observedAt); {
	case age < time.Hour:
		return domain.RecencyPastHour
	case age < 24*time.Hour:
		return domain.RecencyPastDay
	case age < 7*24*time.Hour:
		return domain.RecencyPastWeek
	default:
		return domain.RecencyOlder
	}
}

func bucketDepth(depthKm *float64) domain.DepthBucket {
	if depthKm == nil {
		return domain.DepthUnknown
	}
	switch d := *depthKm; {
	case d < 10:
		return domain.DepthShallow
	case d < 50:
		return domain.DepthIntermediate
	case d < 200:
		return domain.DepthDeep
	default:
		return domain.DepthVeryDeep
	}
}

const earthRadiusKm = 6371.0

// haversineKm returns the great-circle distance between two WGS-84 points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
