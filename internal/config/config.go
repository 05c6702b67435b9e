package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/spc-outlook-service/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

const (
	maxFetchTimeout    = 60 * time.Second
	minRefreshInterval = time.Minute
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Coordinate domain.Coordinate
	Catalog    domain.CatalogConfig

	FetchTimeout    time.Duration
	RefreshInterval time.Duration

	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Optional snapshot sinks. Empty values disable them.
	KafkaBrokers       []string
	KafkaSnapshotTopic string
	SnapshotDBPath     string
}

// KafkaEnabled reports whether the Kafka snapshot sink is configured.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	coord, err := parseCoordinate()
	if err != nil {
		return nil, err
	}

	catalog, err := parseCatalog()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("SPC_FETCH_TIMEOUT", "20s"))
	if err != nil || fetchTimeout <= 0 || fetchTimeout > maxFetchTimeout {
		return nil, errors.New("invalid SPC_FETCH_TIMEOUT: must be a duration in (0, 60s]")
	}

	refreshInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("REFRESH_INTERVAL", "30m"))
	if err != nil || refreshInterval < minRefreshInterval {
		return nil, errors.New("invalid REFRESH_INTERVAL: must be a duration of at least 1m")
	}

	cfg := &Config{
		Coordinate:         coord,
		Catalog:            catalog,
		FetchTimeout:       fetchTimeout,
		RefreshInterval:    refreshInterval,
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "")),
		KafkaSnapshotTopic: sharedcfg.EnvOrDefault("KAFKA_SNAPSHOT_TOPIC", "spc-outlook-snapshots"),
		SnapshotDBPath:     sharedcfg.EnvOrDefault("SNAPSHOT_DB_PATH", ""),
	}

	if cfg.KafkaEnabled() && cfg.KafkaSnapshotTopic == "" {
		return nil, errors.New("KAFKA_SNAPSHOT_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func parseCoordinate() (domain.Coordinate, error) {
	lat, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("OUTLOOK_LATITUDE", "42.2808"), 64)
	if err != nil {
		return domain.Coordinate{}, errors.New("invalid OUTLOOK_LATITUDE")
	}
	lon, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("OUTLOOK_LONGITUDE", "-83.7430"), 64)
	if err != nil {
		return domain.Coordinate{}, errors.New("invalid OUTLOOK_LONGITUDE")
	}
	coord, err := domain.NewCoordinate(lat, lon)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("invalid OUTLOOK_LATITUDE/OUTLOOK_LONGITUDE: %w", err)
	}
	return coord, nil
}

func parseCatalog() (domain.CatalogConfig, error) {
	days, err := strconv.Atoi(sharedcfg.EnvOrDefault("SPC_DETAILED_DAYS", strconv.Itoa(domain.DefaultDetailedDays)))
	if err != nil || days < 0 || days > domain.MaxDay {
		return domain.CatalogConfig{}, fmt.Errorf("invalid SPC_DETAILED_DAYS: must be 0-%d", domain.MaxDay)
	}

	var hazards []domain.Hazard
	for _, part := range strings.Split(sharedcfg.EnvOrDefault("SPC_HAZARDS", "torn,hail,wind"), ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		h, err := domain.ParseHazard(part)
		if err != nil || !h.Detailed() {
			return domain.CatalogConfig{}, fmt.Errorf("invalid SPC_HAZARDS: %q is not one of torn, hail, wind", strings.TrimSpace(part))
		}
		hazards = append(hazards, h)
	}

	return domain.CatalogConfig{
		BaseURL:      strings.TrimRight(sharedcfg.EnvOrDefault("SPC_BASE_URL", domain.DefaultBaseURL), "/"),
		DetailedDays: days,
		Hazards:      hazards,
	}, nil
}
