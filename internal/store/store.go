// Package store maintains the deduplicated, time-windowed set of known
// events. The orchestrator is the only writer; cycles are serialized.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/quake-watch-service/internal/domain"
)

// UpsertStats reports what one Upsert call did.
type UpsertStats struct {
	Added     int
	Revised   int
	Unchanged int
}

// Store holds the live EventRecords keyed by id.
type Store struct {
	mu     sync.Mutex
	events map[string]domain.EventRecord
}

// New creates an empty store.
func New() *Store {
	return &Store{events: make(map[string]domain.EventRecord)}
}

// Upsert applies a batch of raw events idempotently. For each event:
// absent id inserts, a newer SourceUpdatedAt replaces the revisable fields,
// an equal SourceUpdatedAt only refreshes LastSeenAt, and an older one is
// ignored so replayed or stale payloads never regress stored state.
// ID and ObservedAt of a stored record are never modified.
func (s *Store) Upsert(events []domain.RawEvent) UpsertStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := domain.Now()
	var stats UpsertStats

	for _, raw := range events {
		existing, ok := s.events[raw.ID]
		if !ok {
			s.events[raw.ID] = domain.EventRecord{
				ID:              raw.ID,
				ObservedAt:      raw.ObservedAt,
				SourceUpdatedAt: raw.SourceUpdatedAt,
				Magnitude:       raw.Magnitude,
				Location:        raw.Location,
				Place:           raw.Place,
				Status:          raw.Status,
				Tsunami:         raw.Tsunami,
				LastSeenAt:      now,
			}
			stats.Added++
			continue
		}

		switch {
		case raw.SourceUpdatedAt.After(existing.SourceUpdatedAt):
			existing.SourceUpdatedAt = raw.SourceUpdatedAt
			existing.Magnitude = raw.Magnitude
			existing.Location = raw.Location
			existing.Place = raw.Place
			existing.Status = raw.Status
			existing.Tsunami = raw.Tsunami
			existing.LastSeenAt = now
			s.events[raw.ID] = existing
			stats.Revised++
		case raw.SourceUpdatedAt.Equal(existing.SourceUpdatedAt):
			existing.LastSeenAt = now
			s.events[raw.ID] = existing
			stats.Unchanged++
		default:
			// Stale revision; leave the record untouched.
			stats.Unchanged++
		}
	}

	return stats
}

// Evict removes records whose ObservedAt precedes olderThan and returns the
// number removed. Called once per cycle before transform so the store stays
// bounded under a live feed.
func (s *Store) Evict(olderThan time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.events {
		if rec.ObservedAt.Before(olderThan) {
			delete(s.events, id)
			removed++
		}
	}
	return removed
}

// SnapshotView returns a defensive copy of the current contents, ordered by
// ObservedAt descending (ties broken by id ascending). Mutations after the
// call are not observable through the returned slice.
func (s *Store) SnapshotView() []domain.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := make([]domain.EventRecord, 0, len(s.events))
	for _, rec := range s.events {
		view = append(view, rec)
	}
	sort.Slice(view, func(i, j int) bool {
		if !view[i].ObservedAt.Equal(view[j].ObservedAt) {
			return view[i].ObservedAt.After(view[j].ObservedAt)
		}
		return view[i].ID < view[j].ID
	})
	return view
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
