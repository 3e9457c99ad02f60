package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	RedisAddr string // empty disables the market value cache

	MinDiscountPercent float64
	MarketMaxAgeDays   int
	MarketSampleLimit  int
	MarketCacheTTLMin  int

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int

	QueueBatchSize  int
	QueueMaxRetries int

	Fetcher        string // http | chrome
	FetchTimeoutMs int
	ChromeBin      string

	IngestInputPath string // JSON file of raw scraped listings; empty skips ingestion
	IngestUserID    int

	CSVOutputPath string
	LogLevel      string

	PosterEndpoints map[string]string
	PosterAPIKey    string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "flipfinder"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "flipfinder123"),
		PostgresDB:       getEnv("POSTGRES_DB", "flipfinder_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisAddr: getEnv("REDIS_ADDR", ""),

		MinDiscountPercent: getEnvFloat("MIN_DISCOUNT_PERCENT", 70),
		MarketMaxAgeDays:   getEnvInt("MARKET_MAX_AGE_DAYS", 90),
		MarketSampleLimit:  getEnvInt("MARKET_SAMPLE_LIMIT", 100),
		MarketCacheTTLMin:  getEnvInt("MARKET_CACHE_TTL_MIN", 360),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),

		QueueBatchSize:  getEnvInt("QUEUE_BATCH_SIZE", 10),
		QueueMaxRetries: getEnvInt("QUEUE_MAX_RETRIES", 3),

		Fetcher:        getEnv("FETCHER", "http"),
		FetchTimeoutMs: getEnvInt("FETCH_TIMEOUT_MS", 30000),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		IngestInputPath: getEnv("INGEST_INPUT_PATH", ""),
		IngestUserID:    getEnvInt("INGEST_USER_ID", 1),

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/opportunities.csv"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		PosterEndpoints: map[string]string{
			"mercari":  getEnv("MERCARI_POST_URL", ""),
			"facebook": getEnv("FACEBOOK_POST_URL", ""),
			"offerup":  getEnv("OFFERUP_POST_URL", ""),
		},
		PosterAPIKey: getEnv("POSTER_API_KEY", ""),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}
