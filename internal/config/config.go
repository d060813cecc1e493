package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration for the service
type Config struct {
	Environment string
	Port        string
	LogLevel    string

	StorageDriver  string
	DatabaseURL    string
	StorageTimeout time.Duration
	ReadRetries    int

	RedisURL     string
	RuleCacheTTL time.Duration
	NATSURL      string

	StaffServiceURL string
	StaffServiceRPS float64

	JWTSecret   string
	CORSOrigins []string

	ReminderInterval time.Duration
	ReminderAfter    time.Duration
	SeedDefaultRules bool
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8099"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", DriverPostgres)),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		StorageTimeout: getDuration("STORAGE_TIMEOUT", 5*time.Second),
		ReadRetries:    getInt("READ_RETRIES", 2),

		RedisURL:     getEnv("REDIS_URL", ""),
		RuleCacheTTL: getDuration("RULE_CACHE_TTL", 60*time.Second),
		NATSURL:      getEnv("NATS_URL", ""),

		StaffServiceURL: getEnv("STAFF_SERVICE_URL", ""),
		StaffServiceRPS: getFloat("STAFF_SERVICE_RPS", 10),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: getList("CORS_ORIGINS", []string{"*"}),

		ReminderInterval: getDuration("REMINDER_INTERVAL", 15*time.Minute),
		ReminderAfter:    getDuration("REMINDER_AFTER", 24*time.Hour),
		SeedDefaultRules: getBool("SEED_DEFAULT_RULES", true),
	}
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q (want %s or %s)", c.StorageDriver, DriverPostgres, DriverMemory)
	}
	if c.StorageTimeout <= 0 {
		return fmt.Errorf("STORAGE_TIMEOUT must be positive")
	}
	if c.ReadRetries < 0 {
		return fmt.Errorf("READ_RETRIES must not be negative")
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// DSN returns DATABASE_URL or a DSN assembled from the DB_* variables
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", ""),
		getEnv("DB_NAME", "approval_db"),
		getEnv("DB_SSLMODE", "disable"),
	)
}

// InitDB initializes the database connection
func InitDB(cfg *Config) (*gorm.DB, error) {
	logLevel := logger.Silent
	if cfg.IsDevelopment() {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}
