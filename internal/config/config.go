package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port            string
	ShutdownTimeout time.Duration

	UseMockDB bool

	// PostgreSQL configuration. DatabaseURL wins over the individual fields.
	DatabaseURL      string
	PostgresHost     string
	PostgresPort     int
	PostgresDatabase string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
	AutoMigrate      bool

	// ClickHouse configuration (optional, rental analytics)
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	LogLevel  string
	LogFormat string

	ImportDir string
}

// ClickHouseEnabled reports whether rental analytics are configured
func (c *Config) ClickHouseEnabled() bool {
	return c.ClickHouseHost != ""
}

// PostgresDSN returns the connection string for the relational store
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:     net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		Path:     "/" + c.PostgresDatabase,
		RawQuery: url.Values{"sslmode": {c.PostgresSSLMode}}.Encode(),
	}
	return u.String()
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		ImportDir: getEnv("IMPORT_DIR", "data"),
	}

	var err error
	if config.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	// Use Mock DB (default: false)
	if config.UseMockDB, err = getBool("USE_MOCK_DB", false); err != nil {
		return nil, err
	}

	// PostgreSQL configuration (required if not using mock)
	if !config.UseMockDB {
		config.DatabaseURL = os.Getenv("DATABASE_URL")
		if config.DatabaseURL == "" {
			config.PostgresHost = os.Getenv("POSTGRES_HOST")
			if config.PostgresHost == "" {
				return nil, fmt.Errorf("DATABASE_URL or POSTGRES_HOST is required when USE_MOCK_DB is not set")
			}
			if config.PostgresPort, err = getInt("POSTGRES_PORT", 5432); err != nil {
				return nil, err
			}
			config.PostgresDatabase = getEnv("POSTGRES_DATABASE", "bookrental")
			config.PostgresUser = getEnv("POSTGRES_USER", "postgres")
			config.PostgresPassword = os.Getenv("POSTGRES_PASSWORD")
			config.PostgresSSLMode = getEnv("POSTGRES_SSLMODE", "disable")
		}

		if config.AutoMigrate, err = getBool("AUTO_MIGRATE", true); err != nil {
			return nil, err
		}
	}

	// ClickHouse is optional; analytics stay off without a host
	config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
	if config.ClickHouseHost != "" {
		if config.ClickHousePort, err = getInt("CLICKHOUSE_PORT", 9000); err != nil {
			return nil, err
		}
		config.ClickHouseDatabase = getEnv("CLICKHOUSE_DATABASE", "default")
		config.ClickHouseUser = getEnv("CLICKHOUSE_USER", "default")
		config.ClickHousePassword = os.Getenv("CLICKHOUSE_PASSWORD")
		if config.ClickHouseUseTLS, err = getBool("CLICKHOUSE_USE_TLS", false); err != nil {
			return nil, err
		}
	}

	switch config.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q (expected json or console)", config.LogFormat)
	}

	return config, nil
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
