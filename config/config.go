package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	OutputDir     string
	GeoMapPath    string
	CatalogPath   string
	RejectionsCSV string
	MetricsFile   string

	MaxConcurrency    int
	RequestIntervalMs int
	MaxRetries        int
	FetchTimeoutSec   int
	MaxPages          int
	ChunkSize         int
	FlushIntervalSec  int

	Fetcher   string
	ChromeBin string

	LogLevel string
	AppEnv   string

	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		OutputDir:     getEnv("OUTPUT_DIR", "./output"),
		GeoMapPath:    getEnv("GEOMAP_PATH", "./almaty-geo-map.json"),
		CatalogPath:   getEnv("CATALOG_PATH", "./catalog.yaml"),
		RejectionsCSV: getEnv("REJECTIONS_CSV", ""),
		MetricsFile:   getEnv("METRICS_TEXTFILE", ""),

		MaxConcurrency:    getEnvInt("MAX_CONCURRENCY", 4),
		RequestIntervalMs: getEnvInt("REQUEST_INTERVAL_MS", 0),
		MaxRetries:        getEnvInt("MAX_RETRIES", 1),
		FetchTimeoutSec:   getEnvInt("FETCH_TIMEOUT_SEC", 30),
		MaxPages:          getEnvInt("MAX_PAGES", 50),
		ChunkSize:         getEnvInt("CHUNK_SIZE", 3000),
		FlushIntervalSec:  getEnvInt("FLUSH_INTERVAL_SEC", 0),

		Fetcher:   getEnv("FETCHER", "http"),
		ChromeBin: getEnv("CHROME_BIN", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		AppEnv:   getEnv("APP_ENV", "development"),

		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "krisha"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "krisha"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
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

// RequestInterval is the minimum gap between fetch dispatches; zero disables pacing.
func (c *Config) RequestInterval() time.Duration {
	return time.Duration(c.RequestIntervalMs) * time.Millisecond
}

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// FlushInterval is the writer's MaxAge; zero means buckets only rotate on size.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSec) * time.Second
}

// UploadEnabled reports whether flushed files should be pushed to object storage.
func (c *Config) UploadEnabled() bool {
	return c.MinioEndpoint != ""
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

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}
