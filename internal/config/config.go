// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	Database    DatabaseConfig
	Redis       RedisConfig
	Engine      EngineConfig
	Indexer     IndexerConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Driver        string
	Host          string
	Port          string
	User          string
	Password      string
	Database      string
	SSLMode       string
	SQLitePath    string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   int
	LogLevel      string
	SlowThreshold time.Duration
}

type RedisConfig struct {
	Host      string
	Port      string
	Password  string
	DB        int
	Channel   string
	DocPrefix string
}

// EngineConfig tunes the metamodel engine.
type EngineConfig struct {
	// Strict enables the integrity checks on instances and instance fields.
	Strict bool
	// BackfillBatchSize bounds how many instances a default backfill loads
	// per query.
	BackfillBatchSize int
}

type IndexerConfig struct {
	RatePerSecond float64
	Burst         int
	BatchSize     int
	// SchemaRefresh is how often the worker drops its cached schema to
	// pick up changes made by other processes.
	SchemaRefresh time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	environment := getEnv("ENVIRONMENT", "development")

	config := &Config{
		Environment: environment,
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "postgres"),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnv("DB_PORT", "5432"),
			User:          getEnv("DB_USER", "postgres"),
			Password:      getEnv("DB_PASSWORD", ""),
			Database:      getEnv("DB_NAME", "catalog"),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			SQLitePath:    getEnv("DB_SQLITE_PATH", "catalog.db"),
			MaxOpenConns:  getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:      getEnv("DB_LOG_LEVEL", "warn"),
			SlowThreshold: getEnvAsDuration("DB_SLOW_THRESHOLD", 200*time.Millisecond),
		},
		Redis: RedisConfig{
			Host:      getEnv("REDIS_HOST", "localhost"),
			Port:      getEnv("REDIS_PORT", "6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			Channel:   getEnv("REDIS_EVENTS_CHANNEL", "metamodel:instance_saved"),
			DocPrefix: getEnv("REDIS_DOCUMENT_PREFIX", "metamodel:doc:"),
		},
		Engine: EngineConfig{
			Strict:            getEnvAsBool("ENGINE_STRICT", environment != "production"),
			BackfillBatchSize: getEnvAsInt("ENGINE_BACKFILL_BATCH_SIZE", 500),
		},
		Indexer: IndexerConfig{
			RatePerSecond: getEnvAsFloat("INDEXER_RATE_PER_SECOND", 200),
			Burst:         getEnvAsInt("INDEXER_BURST", 50),
			BatchSize:     getEnvAsInt("INDEXER_BATCH_SIZE", 100),
			SchemaRefresh: getEnvAsDuration("INDEXER_SCHEMA_REFRESH", 30*time.Second),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Engine.BackfillBatchSize <= 0 {
		return fmt.Errorf("backfill batch size must be positive")
	}

	if c.Indexer.RatePerSecond <= 0 || c.Indexer.Burst <= 0 || c.Indexer.BatchSize <= 0 {
		return fmt.Errorf("indexer rate, burst and batch size must be positive")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
