package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// MemoryDB selects the in-memory store instead of a SQLite file.
const MemoryDB = "memory"

type Config struct {
	// HTTP Server
	Port        string
	CORSOrigins []string

	// Database
	DBPath string

	// Logging
	LogLevel    string
	Environment string

	// AMQP (empty URL disables event publishing)
	AMQPURL      string
	AMQPExchange string

	// Year rollover
	RolloverCron string

	// Materialization retry
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
}

// Load reads configuration from environment variables and .env file (if present).
func Load() *Config {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),
		DBPath:      getEnv("DB_PATH", "series.db"),

		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Environment: strings.ToLower(getEnv("ENVIRONMENT", "development")),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "series"),

		RolloverCron: getEnv("ROLLOVER_CRON", "0 3 1 1 *"),

		MaxAttempts: getEnvInt("MATERIALIZE_MAX_ATTEMPTS", 4),
		Backoff:     getEnvDuration("MATERIALIZE_BACKOFF", 25*time.Millisecond),
		MaxBackoff:  getEnvDuration("MATERIALIZE_MAX_BACKOFF", 500*time.Millisecond),
	}
}

// UseMemoryStore reports whether DBPath selects the in-memory store.
func (c *Config) UseMemoryStore() bool {
	return c.DBPath == MemoryDB
}

// Validate validates the configuration and returns every problem at once.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DBPath == "" {
		errors = append(errors, "database path cannot be empty")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := cron.ParseStandard(c.RolloverCron); err != nil {
		errors = append(errors, fmt.Sprintf("invalid rollover cron '%s': %v", c.RolloverCron, err))
	}

	if c.MaxAttempts < 1 || c.MaxAttempts > 20 {
		errors = append(errors, fmt.Sprintf("invalid materialize max attempts %d: must be between 1 and 20", c.MaxAttempts))
	}
	if c.Backoff <= 0 {
		errors = append(errors, fmt.Sprintf("invalid materialize backoff %v: must be positive", c.Backoff))
	}
	if c.MaxBackoff < c.Backoff {
		errors = append(errors, fmt.Sprintf("invalid materialize max backoff %v: must be at least %v", c.MaxBackoff, c.Backoff))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
