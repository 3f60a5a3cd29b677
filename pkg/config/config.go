package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	Env string // development, staging, production

	// Storage layout
	DataDir     string // hourly.csv, features.csv, splits
	CacheDir    string // raw SMARD chunks
	ArtifactDir string // model.json + manifest.json per run

	// Study definition (YAML)
	PipelineConfig string

	// Market data API
	SMARD SMARDConfig

	// Optional shared rate limit
	Redis RedisConfig

	// Optional run registry
	Database DatabaseConfig

	// Logging
	LogLevel  string
	LogFormat string

	// Report server
	Port string

	// Monitoring
	MetricsEnabled bool
	MetricsPort    string
}

// SMARDConfig holds SMARD.de chart_data API configuration
type SMARDConfig struct {
	BaseURL     string
	Region      string // load/generation region (DE)
	PriceRegion string // bidding zone for day-ahead prices (DE-LU)
	Resolution  string // hour, quarterhour

	Timeout      time.Duration // per request
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Workers      int
	RatePerSec   float64

	// Chunks with a null tail are re-downloaded until this long after their end
	SettleAfter time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration for the run registry
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether a registry database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	dataDir := getEnv("DATA_DIR", "data")

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		DataDir:        dataDir,
		CacheDir:       getEnv("CACHE_DIR", filepath.Join(dataDir, "cache")),
		ArtifactDir:    getEnv("ARTIFACT_DIR", filepath.Join(dataDir, "artifacts")),
		PipelineConfig: getEnv("PIPELINE_CONFIG", "configs/pipeline.yaml"),

		SMARD: SMARDConfig{
			BaseURL:      getEnv("SMARD_BASE_URL", "https://www.smard.de/app/chart_data"),
			Region:       getEnv("SMARD_REGION", "DE"),
			PriceRegion:  getEnv("SMARD_PRICE_REGION", "DE-LU"),
			Resolution:   getEnv("SMARD_RESOLUTION", "hour"),
			Timeout:      getEnvAsDuration("SMARD_TIMEOUT", "30s"),
			MaxRetries:   getEnvAsInt("SMARD_MAX_RETRIES", 4),
			InitialDelay: getEnvAsDuration("SMARD_RETRY_DELAY", "500ms"),
			MaxDelay:     getEnvAsDuration("SMARD_RETRY_MAX_DELAY", "15s"),
			Workers:      getEnvAsInt("SMARD_WORKERS", 4),
			RatePerSec:   getEnvAsFloat("SMARD_RATE_PER_SEC", 5),
			SettleAfter:  getEnvAsDuration("SMARD_CACHE_SETTLE_AFTER", "168h"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 5),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		Port: getEnv("PORT", "8080"),

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", false),
		MetricsPort:    getEnv("METRICS_PORT", "9090"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.SMARD.Resolution != "hour" && c.SMARD.Resolution != "quarterhour" {
		return fmt.Errorf("SMARD_RESOLUTION must be one of: hour, quarterhour")
	}

	if c.SMARD.Workers < 1 {
		return fmt.Errorf("SMARD_WORKERS must be >= 1")
	}

	if c.SMARD.MaxRetries < 0 {
		return fmt.Errorf("SMARD_MAX_RETRIES must be >= 0")
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
