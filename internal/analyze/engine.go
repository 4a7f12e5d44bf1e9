// Package analyze evaluates a fixed, ordered list of rules over a derived
// feature set and produces ranked recommendations. Rules are stateless across
// cycles; each may emit zero or one recommendation per cycle, and rationale
// entries record the literal values and thresholds compared.
package analyze

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/quake-watch-service/internal/domain"
)

// Config holds the rule thresholds, validated at startup.
type Config struct {
	// ClusterMinEvents is the minimum number of events at or above the
	// moderate bucket for a cluster to trigger the cluster-activity rule.
	ClusterMinEvents int
	// RateSpikePerHour is the new-event rate that triggers the rate-spike rule.
	RateSpikePerHour float64
}

func (c Config) validate() error {
	if c.ClusterMinEvents < 1 {
		return fmt.Errorf("cluster min events must be >= 1, got %d", c.ClusterMinEvents)
	}
	if c.RateSpikePerHour <= 0 {
		return fmt.Errorf("rate spike threshold must be positive, got %g", c.RateSpikePerHour)
	}
	return nil
}

type rule struct {
	name string
	eval func(e *Engine, derived domain.DerivedFeatureSet, now time.Time) *domain.Recommendation
}

// Engine evaluates the rule list in a fixed order.
type Engine struct {
	cfg   Config
	rules []rule
}

// New creates an analysis engine, rejecting an invalid configuration.
func New(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	return &Engine{
		cfg: cfg,
		rules: []rule{
			{name: "cluster-activity", eval: (*Engine).clusterActivity},
			{name: "strong-event", eval: (*Engine).strongEvent},
			{name: "rate-spike", eval: (*Engine).rateSpike},
			{name: "tsunami-flag", eval: (*Engine).tsunamiFlag},
		},
	}, nil
}

// Analyze runs every rule and returns recommendations ordered by descending
// severity, then descending subject recency, then lexicographic subject ids.
// The same derived input always yields the same output.
func (e *Engine) Analyze(derived domain.DerivedFeatureSet, now time.Time) ([]domain.Recommendation, error) {
	recs := make([]domain.Recommendation, 0, len(e.rules))
	for _, r := range e.rules {
		rec := r.eval(e, derived, now)
		if rec == nil {
			continue
		}
		rec.Rule = r.name
		rec.GeneratedAt = now
		rec.ID = recommendationID(r.name, rec.SubjectIDs, now)
		recs = append(recs, *rec)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Severity != recs[j].Severity {
			return recs[i].Severity > recs[j].Severity
		}
		if !recs[i].SubjectTime.Equal(recs[j].SubjectTime) {
			return recs[i].SubjectTime.After(recs[j].SubjectTime)
		}
		return strings.Join(recs[i].SubjectIDs, ",") < strings.Join(recs[j].SubjectIDs, ",")
	})
	return recs, nil
}

// recommendationID derives a stable id from the rule, subjects, and cycle
// time, so identical input produces identical recommendations.
func recommendationID(rule string, subjectIDs []string, now time.Time) string {
	seed := rule + "|" + strings.Join(subjectIDs, ",") + "|" + now.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

// clusterActivity fires on the cluster with the most events at or above the
// moderate bucket, when that count reaches the configured minimum.
func (e *Engine) clusterActivity(derived domain.DerivedFeatureSet, _ time.Time) *domain.Recommendation {
	bucketByID := make(map[string]domain.MagnitudeBucket, len(derived.Events))
	for _, ev := range derived.Events {
		bucketByID[ev.EventID] = ev.MagnitudeBucket
	}

	var best *domain.Cluster
	bestCount := 0
	for i := range derived.Clusters {
		c := &derived.Clusters[i]
		count := 0
		for _, id := range c.EventIDs {
			if bucketByID[id].AtLeast(domain.MagnitudeModerate) {
				count++
			}
		}
		if count < e.cfg.ClusterMinEvents {
			continue
		}
		if count > bestCount || (count == bestCount && best != nil && c.EventIDs[0] < best.EventIDs[0]) {
			best = c
			bestCount = count
		}
	}
	if best == nil {
		return nil
	}

	severity := domain.SeverityWarning
	maxBucket := domain.MagnitudeUnknown
	for _, id := range best.EventIDs {
		if bucketByID[id].AtLeast(maxBucket) || maxBucket == domain.MagnitudeUnknown {
			maxBucket = bucketByID[id]
		}
	}
	if maxBucket.AtLeast(domain.MagnitudeMajor) {
		severity = domain.SeverityCritical
	}

	return &domain.Recommendation{
		Severity:    severity,
		Headline:    fmt.Sprintf("elevated-risk cluster: %d events at or above moderate magnitude", bestCount),
		SubjectIDs:  append([]string(nil), best.EventIDs...),
		SubjectTime: best.LatestAt,
		Rationale: []domain.Condition{
			{
				Feature:   "cluster.events_at_or_above_moderate",
				Operator:  ">=",
				Threshold: strconv.Itoa(e.cfg.ClusterMinEvents),
				Value:     strconv.Itoa(bestCount),
			},
			{
				Feature:   "cluster.magnitude_bucket_max",
				Operator:  ">=",
				Threshold: string(domain.MagnitudeModerate),
				Value:     string(maxBucket),
			},
		},
	}
}

// strongEvent fires when the strongest event in the window reaches the strong
// bucket and was observed within the past day.
func (e *Engine) strongEvent(derived domain.DerivedFeatureSet, _ time.Time) *domain.Recommendation {
	var best *domain.EventFeatures
	for i := range derived.Events {
		ev := &derived.Events[i]
		if !ev.MagnitudeBucket.AtLeast(domain.MagnitudeStrong) {
			continue
		}
		if ev.RecencyBucket != domain.RecencyPastHour && ev.RecencyBucket != domain.RecencyPastDay {
			continue
		}
		if best == nil || magnitudeOf(ev) > magnitudeOf(best) ||
			(magnitudeOf(ev) == magnitudeOf(best) && ev.EventID < best.EventID) {
			best = ev
		}
	}
	if best == nil {
		return nil
	}

	severity := domain.SeverityWarning
	if best.MagnitudeBucket.AtLeast(domain.MagnitudeMajor) {
		severity = domain.SeverityCritical
	}

	return &domain.Recommendation{
		Severity:    severity,
		Headline:    fmt.Sprintf("%s magnitude event observed within the past day", best.MagnitudeBucket),
		SubjectIDs:  []string{best.EventID},
		SubjectTime: best.ObservedAt,
		Rationale: []domain.Condition{
			{
				Feature:   "event.magnitude_bucket",
				Operator:  ">=",
				Threshold: string(domain.MagnitudeStrong),
				Value:     string(best.MagnitudeBucket),
			},
			{
				Feature:   "event.recency_bucket",
				Operator:  "<=",
				Threshold: string(domain.RecencyPastDay),
				Value:     string(best.RecencyBucket),
			},
		},
	}
}

// rateSpike fires when the trailing new-event rate exceeds the configured
// events-per-hour threshold.
func (e *Engine) rateSpike(derived domain.DerivedFeatureSet, _ time.Time) *domain.Recommendation {
	rate := derived.Aggregates.NewEventRatePerHour
	if rate <= e.cfg.RateSpikePerHour {
		return nil
	}

	subjectTime := time.Time{}
	for _, ev := range derived.Events {
		for _, id := range derived.Aggregates.NewEventIDs {
			if ev.EventID == id && ev.ObservedAt.After(subjectTime) {
				subjectTime = ev.ObservedAt
			}
		}
	}

	return &domain.Recommendation{
		Severity:    domain.SeverityAdvisory,
		Headline:    fmt.Sprintf("new-event rate spike: %.1f events/hour", rate),
		SubjectIDs:  append([]string(nil), derived.Aggregates.NewEventIDs...),
		SubjectTime: subjectTime,
		Rationale: []domain.Condition{
			{
				Feature:   "window.new_event_rate_per_hour",
				Operator:  ">",
				Threshold: strconv.FormatFloat(e.cfg.RateSpikePerHour, 'f', -1, 64),
				Value:     strconv.FormatFloat(rate, 'f', 2, 64),
			},
		},
	}
}

// tsunamiFlag fires when any event in the window carries the feed's tsunami
// flag.
func (e *Engine) tsunamiFlag(derived domain.DerivedFeatureSet, _ time.Time) *domain.Recommendation {
	var subjects []string
	var latest time.Time
	for _, ev := range derived.Events {
		if !ev.Tsunami {
			continue
		}
		subjects = append(subjects, ev.EventID)
		if ev.ObservedAt.After(latest) {
			latest = ev.ObservedAt
		}
	}
	if len(subjects) == 0 {
		return nil
	}
	sort.Strings(subjects)

	return &domain.Recommendation{
		Severity:    domain.SeverityCritical,
		Headline:    fmt.Sprintf("tsunami flag set on %d event(s)", len(subjects)),
		SubjectIDs:  subjects,
		SubjectTime: latest,
		Rationale: []domain.Condition{
			{
				Feature:   "event.tsunami",
				Operator:  "==",
				Threshold: "1",
				Value:     "1",
			},
		},
	}
}

func magnitudeOf(ev *domain.EventFeatures) float64 {
	if ev.Magnitude == nil {
		return 0
	}
	return *ev.Magnitude
}
