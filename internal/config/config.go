package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Store drivers understood by the repository package
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	LogLevel    string
	Store       StoreConfig
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Auth        AuthConfig
	Relay       RelayConfig
	Meter       MeterConfig
}

// StoreConfig selects the telemetry store backend
type StoreConfig struct {
	Driver     string
	SQLitePath string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string
}

// RabbitMQConfig holds RabbitMQ connection and queue settings.
// An empty URL disables both event publishing and queue ingress.
type RabbitMQConfig struct {
	URL              string
	EventsExchange   string
	EventsRoutingKey string
	IngestExchange   string
	IngestQueue      string
	IngestRoutingKey string
	DLQQueue         string
	PrefetchCount    int
}

// Enabled reports whether an AMQP broker is configured
func (c RabbitMQConfig) Enabled() bool {
	return c.URL != ""
}

// IngressEnabled reports whether devices may also report through a queue
func (c RabbitMQConfig) IngressEnabled() bool {
	return c.Enabled() && c.IngestQueue != ""
}

// AuthConfig holds the token settings used to identify users at accept time
type AuthConfig struct {
	JWTSecret  string
	QueryParam string
}

// RelayConfig holds per-connection settings
type RelayConfig struct {
	SendBufferSize      int
	WriteTimeoutSeconds int
	AllowedOrigins      []string
}

// MeterConfig holds device defaults and read-side thresholds
type MeterConfig struct {
	DefaultPulseToLiter    float64
	OnlineThresholdSeconds int
	RecentLogLimit         int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "water-meter-relay"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Store: StoreConfig{
			Driver:     strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
			SQLitePath: getEnv("SQLITE_PATH", "water-meter.db"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		RabbitMQ: RabbitMQConfig{
			URL:              getEnv("RABBITMQ_URL", ""),
			EventsExchange:   getEnv("RABBITMQ_EVENTS_EXCHANGE", "water-meter.telemetry.exchange"),
			EventsRoutingKey: getEnv("RABBITMQ_EVENTS_ROUTING_KEY", "water.log.created"),
			IngestExchange:   getEnv("RABBITMQ_INGEST_EXCHANGE", "water-meter.ingest.exchange"),
			IngestQueue:      getEnv("RABBITMQ_INGEST_QUEUE", ""),
			IngestRoutingKey: getEnv("RABBITMQ_INGEST_ROUTING_KEY", "water.pulse.raw"),
			DLQQueue:         getEnv("RABBITMQ_DLQ_QUEUE", "water-meter.ingest.dlq"),
			PrefetchCount:    getEnvAsInt("RABBITMQ_PREFETCH", 10),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("JWT_SECRET", ""),
			QueryParam: getEnv("JWT_QUERY_PARAM", "token"),
		},
		Relay: RelayConfig{
			SendBufferSize:      getEnvAsInt("RELAY_SEND_BUFFER", 64),
			WriteTimeoutSeconds: getEnvAsInt("RELAY_WRITE_TIMEOUT_SECONDS", 10),
			AllowedOrigins:      getEnvAsList("RELAY_ALLOWED_ORIGINS"),
		},
		Meter: MeterConfig{
			DefaultPulseToLiter:    getEnvAsFloat("DEVICE_DEFAULT_PULSE_TO_LITER", 650.0),
			OnlineThresholdSeconds: getEnvAsInt("DEVICE_ONLINE_THRESHOLD_SECONDS", 30),
			RecentLogLimit:         getEnvAsInt("DASHBOARD_RECENT_LOGS", 20),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the cross-field constraints of the configuration
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=%s", DriverSQLite)
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q (expected %s or %s)", c.Store.Driver, DriverPostgres, DriverSQLite)
	}

	if c.Relay.SendBufferSize <= 0 {
		return fmt.Errorf("RELAY_SEND_BUFFER must be positive, got %d", c.Relay.SendBufferSize)
	}
	if c.Relay.WriteTimeoutSeconds <= 0 {
		return fmt.Errorf("RELAY_WRITE_TIMEOUT_SECONDS must be positive, got %d", c.Relay.WriteTimeoutSeconds)
	}
	if c.Meter.DefaultPulseToLiter <= 0 {
		return fmt.Errorf("DEVICE_DEFAULT_PULSE_TO_LITER must be positive, got %v", c.Meter.DefaultPulseToLiter)
	}
	if c.Meter.OnlineThresholdSeconds <= 0 {
		return fmt.Errorf("DEVICE_ONLINE_THRESHOLD_SECONDS must be positive, got %d", c.Meter.OnlineThresholdSeconds)
	}
	if c.Meter.RecentLogLimit <= 0 {
		return fmt.Errorf("DASHBOARD_RECENT_LOGS must be positive, got %d", c.Meter.RecentLogLimit)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	return values
}
