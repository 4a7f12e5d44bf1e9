// Package config loads service settings with layered precedence:
// built-in defaults, then an optional YAML config file, then environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfigPaths lists where config files are searched, first hit wins.
var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/quakewatch/config.yaml",
	"/etc/quakewatch/config.yml",
}

// Config holds all service settings.
type Config struct {
	Feed      FeedConfig      `koanf:"feed"`
	Window    WindowConfig    `koanf:"window"`
	Cluster   ClusterConfig   `koanf:"cluster"`
	Magnitude MagnitudeConfig `koanf:"magnitude"`
	Analysis  AnalysisConfig  `koanf:"analysis"`
	Kafka     KafkaConfig     `koanf:"kafka"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// FeedConfig points at the USGS GeoJSON summary feed.
type FeedConfig struct {
	URL          string        `koanf:"url"`
	PollInterval time.Duration `koanf:"poll_interval"`
	FetchTimeout time.Duration `koanf:"fetch_timeout"`
}

// WindowConfig bounds the ingestion store.
type WindowConfig struct {
	Retention time.Duration `koanf:"retention"`
}

// ClusterConfig defines spatial/temporal proximity for clustering.
type ClusterConfig struct {
	RadiusKm float64       `koanf:"radius_km"`
	Window   time.Duration `koanf:"window"`
}

// MagnitudeConfig holds the bucket breakpoints.
type MagnitudeConfig struct {
	// Thresholds are the four ascending breakpoints splitting magnitudes
	// into minor/light/moderate/strong/major.
	Thresholds []float64 `koanf:"thresholds"`
}

// AnalysisConfig holds the rule thresholds.
type AnalysisConfig struct {
	ClusterMinEvents int     `koanf:"cluster_min_events"`
	RateSpikePerHour float64 `koanf:"rate_spike_per_hour"`
}

// KafkaConfig configures the optional recommendation sink.
type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:          "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_day.geojson",
			PollInterval: 60 * time.Second,
			FetchTimeout: 10 * time.Second,
		},
		Window: WindowConfig{
			Retention: 24 * time.Hour,
		},
		Cluster: ClusterConfig{
			RadiusKm: 100,
			Window:   time.Hour,
		},
		Magnitude: MagnitudeConfig{
			Thresholds: []float64{2.5, 4.5, 6.0, 7.0},
		},
		Analysis: AnalysisConfig{
			ClusterMinEvents: 3,
			RateSpikePerHour: 10,
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "quake-recommendations",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envToPath maps recognized environment variables onto koanf paths.
var envToPath = map[string]string{
	"FEED_URL":                     "feed.url",
	"POLL_INTERVAL":                "feed.poll_interval",
	"FETCH_TIMEOUT":                "feed.fetch_timeout",
	"RETENTION_WINDOW":             "window.retention",
	"CLUSTER_RADIUS_KM":            "cluster.radius_km",
	"CLUSTER_WINDOW":               "cluster.window",
	"MAGNITUDE_THRESHOLDS":         "magnitude.thresholds",
	"ANALYSIS_CLUSTER_MIN_EVENTS":  "analysis.cluster_min_events",
	"ANALYSIS_RATE_SPIKE_PER_HOUR": "analysis.rate_spike_per_hour",
	"KAFKA_ENABLED":                "kafka.enabled",
	"KAFKA_BROKERS":                "kafka.brokers",
	"KAFKA_TOPIC":                  "kafka.topic",
	"HTTP_ADDR":                    "server.addr",
	"SHUTDOWN_TIMEOUT":             "server.shutdown_timeout",
	"LOG_LEVEL":                    "logging.level",
	"LOG_FORMAT":                   "logging.format",
}

// Load reads configuration with layered precedence (env > file > defaults)
// and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", func(name string) string {
		return envToPath[name]
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := normalizeListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeListFields converts comma-separated env strings into typed slices.
func normalizeListFields(k *koanf.Koanf) error {
	if raw, ok := k.Get("magnitude.thresholds").(string); ok {
		parts := splitList(raw)
		thresholds := make([]float64, 0, len(parts))
		for _, p := range parts {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return fmt.Errorf("MAGNITUDE_THRESHOLDS: invalid value %q", p)
			}
			thresholds = append(thresholds, v)
		}
		if err := k.Set("magnitude.thresholds", thresholds); err != nil {
			return fmt.Errorf("set magnitude thresholds: %w", err)
		}
	}

	if raw, ok := k.Get("kafka.brokers").(string); ok {
		if err := k.Set("kafka.brokers", splitList(raw)); err != nil {
			return fmt.Errorf("set kafka brokers: %w", err)
		}
	}
	return nil
}

func splitList(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks the configuration. A validation failure is the only fatal
// startup error.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("feed url is required")
	}
	if c.Feed.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.Feed.FetchTimeout <= 0 {
		return errors.New("fetch timeout must be positive")
	}
	if c.Window.Retention <= 0 {
		return errors.New("retention window must be positive")
	}
	if c.Cluster.RadiusKm <= 0 {
		return errors.New("cluster radius must be positive")
	}
	if c.Cluster.Window <= 0 {
		return errors.New("cluster window must be positive")
	}
	if len(c.Magnitude.Thresholds) != 4 {
		return fmt.Errorf("magnitude thresholds: want 4 values, got %d", len(c.Magnitude.Thresholds))
	}
	for i := 1; i < len(c.Magnitude.Thresholds); i++ {
		if c.Magnitude.Thresholds[i] <= c.Magnitude.Thresholds[i-1] {
			return fmt.Errorf("magnitude thresholds must be strictly ascending: %v", c.Magnitude.Thresholds)
		}
	}
	if c.Analysis.ClusterMinEvents < 1 {
		return errors.New("analysis cluster min events must be >= 1")
	}
	if c.Analysis.RateSpikePerHour <= 0 {
		return errors.New("analysis rate spike threshold must be positive")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("kafka is enabled but no brokers are configured")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka is enabled but no topic is configured")
		}
	}
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}
