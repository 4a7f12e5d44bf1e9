// Command genfeed writes a synthetic USGS-style GeoJSON summary document for
// local runs and test fixtures. Event placement and magnitudes come from a
// seeded generator, so the same flags always produce the same document.
//
// Usage:
//
//	go run ./cmd/genfeed \
//	  -out testdata/feed_synthetic.geojson \
//	  -count 50 -seed 1 \
//	  -center-lat 35.0 -center-lon -117.5 -spread-km 250
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"
)

// baseTime anchors all generated origin times so fixtures are reproducible.
var baseTime = time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC)

type document struct {
	Type     string    `json:"type"`
	Metadata metadata  `json:"metadata"`
	Features []feature `json:"features"`
}

type metadata struct {
	Generated int64  `json:"generated"`
	Count     int    `json:"count"`
	Title     string `json:"title"`
}

type feature struct {
	Type       string     `json:"type"`
	ID         string     `json:"id"`
	Properties properties `json:"properties"`
	Geometry   geometry   `json:"geometry"`
}

type properties struct {
	Mag     *float64 `json:"mag"`
	Place   string   `json:"place"`
	Time    int64    `json:"time"`
	Updated int64    `json:"updated"`
	Status  string   `json:"status"`
	Tsunami int      `json:"tsunami"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type options struct {
	out         string
	count       int
	seed        int64
	centerLat   float64
	centerLon   float64
	spreadKm    float64
	windowHours int
}

func (o options) validate() error {
	if o.out == "" {
		return fmt.Errorf("missing required flag: -out")
	}
	if o.count < 1 {
		return fmt.Errorf("-count must be positive, got %d", o.count)
	}
	if o.spreadKm <= 0 {
		return fmt.Errorf("-spread-km must be positive, got %g", o.spreadKm)
	}
	if o.windowHours < 1 {
		return fmt.Errorf("-window-hours must be positive, got %d", o.windowHours)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	var opts options
	flag.StringVar(&opts.out, "out", "", "output path for the GeoJSON document")
	flag.IntVar(&opts.count, "count", 50, "number of events to generate")
	flag.Int64Var(&opts.seed, "seed", 1, "random seed")
	flag.Float64Var(&opts.centerLat, "center-lat", 35.0, "cluster center latitude")
	flag.Float64Var(&opts.centerLon, "center-lon", -117.5, "cluster center longitude")
	flag.Float64Var(&opts.spreadKm, "spread-km", 250, "max distance from center in km")
	flag.IntVar(&opts.windowHours, "window-hours", 24, "spread of origin times before base time")
	flag.Parse()

	if err := opts.validate(); err != nil {
		flag.Usage()
		return err
	}

	doc := buildDocument(opts)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := os.WriteFile(opts.out, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.out, err)
	}

	log.Printf("wrote %d features to %s", opts.count, opts.out)
	return nil
}

func buildDocument(opts options) document {
	rng := rand.New(rand.NewSource(opts.seed))
	doc := document{
		Type: "FeatureCollection",
		Metadata: metadata{
			Generated: baseTime.UnixMilli(),
			Count:     opts.count,
			Title:     "Synthetic Feed, Past Day",
		},
		Features: make([]feature, 0, opts.count),
	}

	for i := 0; i < opts.count; i++ {
		lat, lon := jitter(rng, opts.centerLat, opts.centerLon, opts.spreadKm)
		depth := rng.Float64() * 120
		observed := baseTime.Add(-time.Duration(rng.Intn(opts.windowHours*3600)) * time.Second)

		// Small magnitudes dominate real feeds; square the draw to skew low.
		mag := math.Round((rng.Float64()*rng.Float64()*7+0.5)*10) / 10
		magPtr := &mag
		if rng.Intn(20) == 0 {
			magPtr = nil // unreviewed events can carry a null magnitude
		}

		doc.Features = append(doc.Features, feature{
			Type: "Feature",
			ID:   fmt.Sprintf("synth%08d", i),
			Properties: properties{
				Mag:     magPtr,
				Place:   fmt.Sprintf("%d km test region", int(opts.spreadKm)),
				Time:    observed.UnixMilli(),
				Updated: observed.Add(5 * time.Minute).UnixMilli(),
				Status:  "automatic",
				Tsunami: 0,
			},
			Geometry: geometry{
				Type:        "Point",
				Coordinates: []float64{lon, lat, depth},
			},
		})
	}

	return doc
}

// jitter offsets a lat/lon by up to spreadKm in a random direction.
func jitter(rng *rand.Rand, lat, lon, spreadKm float64) (float64, float64) {
	const kmPerDegLat = 111.0
	dist := rng.Float64() * spreadKm
	angle := rng.Float64() * 2 * math.Pi

	dLat := dist * math.Cos(angle) / kmPerDegLat
	dLon := dist * math.Sin(angle) / (kmPerDegLat * math.Cos(lat*math.Pi/180))
	return lat + dLat, lon + dLon
}
