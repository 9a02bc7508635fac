package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Storage
	StorageDriver string // "sqlite" or "postgres"
	SQLitePath    string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Ingestion
	Marketplaces      []string
	MaxConcurrency    int
	RateLimitMs       int
	MaxRetries        int
	RequestTimeoutSec int
	PagesToFetch      int
	ListingsPerPage   int
	FetchReviews      bool
	RawAuditPath      string // optional CSV dump of raw records per run

	// Marketplace credentials / endpoints
	WalmartAPIKey  string
	WalmartBaseURL string
	EbayToken      string
	EbayBaseURL    string
	ChromeBin      string

	// Analysis
	TrendWindowDays      int
	TrendThresholdPct    float64
	SentimentLexiconPath string
	SentimentTopK        int
	SentimentHalfLife    int // days; 0 disables recency weighting
	ComparisonConfigPath string
	CompareMaxProducts   int

	// API
	APIAddr string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		StorageDriver: getEnv("STORAGE_DRIVER", "sqlite"),
		SQLitePath:    getEnv("SQLITE_PATH", "./data/pricepulse.db"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "pricepulse"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "pricepulse123"),
		PostgresDB:       getEnv("POSTGRES_DB", "pricepulse"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		Marketplaces:      splitList(getEnv("MARKETPLACES", "amazon,walmart,ebay")),
		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:       getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		RequestTimeoutSec: getEnvInt("REQUEST_TIMEOUT_SEC", 60),
		PagesToFetch:      getEnvInt("PAGES_TO_FETCH", 2),
		ListingsPerPage:   getEnvInt("LISTINGS_PER_PAGE", 10),
		FetchReviews:      getEnvBool("FETCH_REVIEWS", true),
		RawAuditPath:      getEnv("RAW_AUDIT_PATH", ""),

		WalmartAPIKey:  getEnv("WALMART_API_KEY", ""),
		WalmartBaseURL: getEnv("WALMART_BASE_URL", "https://developer.api.walmart.com/api-proxy/service/affil/product/v2"),
		EbayToken:      getEnv("EBAY_TOKEN", ""),
		EbayBaseURL:    getEnv("EBAY_BASE_URL", "https://api.ebay.com/buy/browse/v1"),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		TrendWindowDays:      getEnvInt("TREND_WINDOW_DAYS", 30),
		TrendThresholdPct:    getEnvFloat("TREND_THRESHOLD_PCT", 1.0),
		SentimentLexiconPath: getEnv("SENTIMENT_LEXICON_PATH", ""),
		SentimentTopK:        getEnvInt("SENTIMENT_TOP_K", 5),
		SentimentHalfLife:    getEnvInt("SENTIMENT_HALF_LIFE_DAYS", 0),
		ComparisonConfigPath: getEnv("COMPARISON_CONFIG_PATH", ""),
		CompareMaxProducts:   getEnvInt("COMPARE_MAX_PRODUCTS", 10),

		APIAddr: getEnv("API_ADDR", ":8080"),
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

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
