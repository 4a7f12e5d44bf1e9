package usgs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/couchcryptid/quake-watch-service/internal/domain"
)

const userAgent = "quake-watch-service/1.0"

// Client fetches and parses a USGS GeoJSON summary feed. It holds no retry
// logic; retry policy belongs to the orchestrator's cycle schedule. A circuit
// breaker makes repeated failures fail fast instead of burning the full fetch
// timeout every tick.
type Client struct {
	feedURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*domain.FeedPayload]
	logger     *slog.Logger
}

// NewClient creates a feed client with a bounded request timeout.
func NewClient(feedURL string, timeout time.Duration, logger *slog.Logger) *Client {
	settings := gobreaker.Settings{
		Name:    "usgs-feed",
		Timeout: 2 * timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Client{
		feedURL: feedURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[*domain.FeedPayload](settings),
		logger:  logger,
	}
}

// Fetch performs one GET against the feed URL and parses the response into
// raw events. Malformed individual features are skipped and counted; only a
// fully unparsable payload or a failed request yields an error, always a
// *domain.FetchError.
func (c *Client) Fetch(ctx context.Context) (*domain.FeedPayload, error) {
	payload, err := c.breaker.Execute(func() (*domain.FeedPayload, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewFetchError(domain.FetchTransient, fmt.Errorf("circuit breaker open: %w", err))
		}
		return nil, err
	}
	return payload, nil
}

func (c *Client) fetch(ctx context.Context) (*domain.FeedPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, domain.NewFetchError(domain.FetchPermanent, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts, DNS failures, refused connections.
		return nil, domain.NewFetchError(domain.FetchTransient, fmt.Errorf("feed request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("feed status %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 500 {
			return nil, domain.NewFetchError(domain.FetchTransient, err)
		}
		return nil, domain.NewFetchError(domain.FetchPermanent, err)
	}

	var doc document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, domain.NewFetchError(domain.FetchPermanent, fmt.Errorf("decode feed: %w", err))
	}

	payload := &domain.FeedPayload{
		Events: make([]domain.RawEvent, 0, len(doc.Features)),
	}
	if doc.Metadata.Generated != 0 {
		payload.GeneratedAt = time.UnixMilli(doc.Metadata.Generated).UTC()
	}

	for _, f := range doc.Features {
		event, err := mapFeature(f)
		if err != nil {
			payload.Skipped++
			c.logger.Warn("skipping malformed feed feature", "feature_id", f.ID, "error", err)
			continue
		}
		payload.Events = append(payload.Events, event)
	}

	return payload, nil
}

// mapFeature extracts a RawEvent from one GeoJSON feature, validating types
// and ranges at the boundary. A feature without an id or origin time cannot
// be ingested and is rejected; a bad coordinate only loses the coordinate.
func mapFeature(f feature) (domain.RawEvent, error) {
	if f.ID == "" {
		return domain.RawEvent{}, errors.New("missing feature id")
	}
	if f.Properties.Time == nil {
		return domain.RawEvent{}, errors.New("missing origin time")
	}

	observedAt := time.UnixMilli(*f.Properties.Time).UTC()
	sourceUpdatedAt := observedAt
	if f.Properties.Updated != nil {
		sourceUpdatedAt = time.UnixMilli(*f.Properties.Updated).UTC()
	}

	return domain.RawEvent{
		ID:              f.ID,
		ObservedAt:      observedAt,
		SourceUpdatedAt: sourceUpdatedAt,
		Magnitude:       f.Properties.Mag,
		Location:        mapGeometry(f.Geometry),
		Place:           f.Properties.Place,
		Status:          f.Properties.Status,
		Tsunami:         f.Properties.Tsunami == 1,
	}, nil
}

// mapGeometry converts GeoJSON [lon, lat, depth] coordinates, dropping values
// outside WGS-84 ranges rather than propagating them.
func mapGeometry(g *geometry) domain.Location {
	var loc domain.Location
	if g == nil || len(g.Coordinates) < 2 {
		return loc
	}
	lon, lat := g.Coordinates[0], g.Coordinates[1]
	if lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 {
		loc.Lat = &lat
		loc.Lon = &lon
	}
	if len(g.Coordinates) >= 3 {
		depth := g.Coordinates[2]
		loc.DepthKm = &depth
	}
	return loc
}

// USGS GeoJSON summary feed document types.

type document struct {
	Type     string    `json:"type"`
	Metadata metadata  `json:"metadata"`
	Features []feature `json:"features"`
}

type metadata struct {
	Generated int64  `json:"generated"` // ms since epoch
	Count     int    `json:"count"`
	Title     string `json:"title"`
}

type feature struct {
	ID         string     `json:"id"`
	Properties properties `json:"properties"`
	Geometry   *geometry  `json:"geometry"`
}

type properties struct {
	Mag     *float64 `json:"mag"`
	Place   string   `json:"place"`
	Time    *int64   `json:"time"`    // ms since epoch
	Updated *int64   `json:"updated"` // ms since epoch
	Status  string   `json:"status"`
	Tsunami int      `json:"tsunami"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"` // [lon, lat, depth_km]
}
