// Package config provides application configuration management,
// loading settings from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Location source kinds
const (
	SourceBrowser = "browser"
	SourceReplay  = "replay"
	SourceKafka   = "kafka"
	SourceNone    = "none"
)

// Config holds all configuration for the application
type Config struct {
	// Service configuration
	ServiceName string
	Environment string
	GRPCPort    string
	HTTPPort    string

	// Map provider
	MapAPIKey          string
	MapLibraries       []string
	MapCenterLatitude  float64
	MapCenterLongitude float64
	MapLevel           int

	// Geolocation
	GeoSource       string
	GeoHighAccuracy bool
	GeoTimeout      time.Duration
	GeoMaximumAge   time.Duration

	// Database configuration
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	// Replay source
	ReplayDate     string
	ReplayDeviceID string
	ReplayInterval time.Duration

	// Kafka source
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// OpenTelemetry configuration
	OTELEndpoint string
	OTELEnabled  bool

	// Event loop
	EventLoopCapacity int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "walk-tracker"),
		Environment: getEnv("ENVIRONMENT", "development"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),

		MapAPIKey:    getEnv("MAP_API_KEY", ""),
		MapLibraries: parseList("MAP_LIBRARIES", "services,clusterer"),

		GeoSource: strings.ToLower(getEnv("GEO_SOURCE", SourceBrowser)),

		PostgresHost:     getEnv("POSTGRES_HOST", "192.168.1.175"),
		PostgresPort:     getEnv("POSTGRES_PORT", "6432"),
		PostgresDB:       getEnv("POSTGRES_DB", "owntracks"),
		PostgresUser:     getEnv("POSTGRES_USER", "development"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "development"),

		ReplayDate:     getEnv("REPLAY_DATE", ""),
		ReplayDeviceID: getEnv("REPLAY_DEVICE_ID", ""),

		KafkaBrokers: parseList("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "owntracks"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "walk-tracker"),

		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	var err error
	cfg.MapCenterLatitude, err = parseFloat("MAP_CENTER_LATITUDE", "37.5665")
	if err != nil {
		return nil, fmt.Errorf("invalid MAP_CENTER_LATITUDE: %w", err)
	}

	cfg.MapCenterLongitude, err = parseFloat("MAP_CENTER_LONGITUDE", "126.978")
	if err != nil {
		return nil, fmt.Errorf("invalid MAP_CENTER_LONGITUDE: %w", err)
	}

	cfg.MapLevel, err = parseInt("MAP_LEVEL", "4")
	if err != nil {
		return nil, fmt.Errorf("invalid MAP_LEVEL: %w", err)
	}

	cfg.GeoHighAccuracy, err = parseBool("GEO_HIGH_ACCURACY", "true")
	if err != nil {
		return nil, fmt.Errorf("invalid GEO_HIGH_ACCURACY: %w", err)
	}

	cfg.GeoTimeout, err = parseDuration("GEO_TIMEOUT", "5s")
	if err != nil {
		return nil, fmt.Errorf("invalid GEO_TIMEOUT: %w", err)
	}

	cfg.GeoMaximumAge, err = parseDuration("GEO_MAXIMUM_AGE", "0s")
	if err != nil {
		return nil, fmt.Errorf("invalid GEO_MAXIMUM_AGE: %w", err)
	}

	cfg.ReplayInterval, err = parseDuration("REPLAY_INTERVAL", "1s")
	if err != nil {
		return nil, fmt.Errorf("invalid REPLAY_INTERVAL: %w", err)
	}

	cfg.OTELEnabled, err = parseBool("OTEL_ENABLED", "true")
	if err != nil {
		return nil, fmt.Errorf("invalid OTEL_ENABLED: %w", err)
	}

	cfg.EventLoopCapacity, err = parseInt("EVENT_LOOP_CAPACITY", "256")
	if err != nil {
		return nil, fmt.Errorf("invalid EVENT_LOOP_CAPACITY: %w", err)
	}

	switch cfg.GeoSource {
	case SourceBrowser, SourceReplay, SourceKafka, SourceNone:
	default:
		return nil, fmt.Errorf("invalid GEO_SOURCE %q: want browser, replay, kafka or none", cfg.GeoSource)
	}

	if cfg.GeoSource == SourceReplay {
		if _, err := time.Parse("2006-01-02", cfg.ReplayDate); err != nil {
			return nil, fmt.Errorf("invalid REPLAY_DATE: %w", err)
		}
	}

	return cfg, nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresUser,
		c.PostgresPassword,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseFloat parses a float64 from an environment variable or default value
func parseFloat(key, defaultValue string) (float64, error) {
	value := getEnv(key, defaultValue)
	return strconv.ParseFloat(value, 64)
}

func parseInt(key, defaultValue string) (int, error) {
	return strconv.Atoi(getEnv(key, defaultValue))
}

func parseBool(key, defaultValue string) (bool, error) {
	return strconv.ParseBool(getEnv(key, defaultValue))
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	return time.ParseDuration(getEnv(key, defaultValue))
}

// parseList splits a comma separated variable, dropping empty entries
func parseList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
