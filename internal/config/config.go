package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StoreKind string

const (
	StoreNone     StoreKind = ""
	StoreRedis    StoreKind = "redis"
	StorePostgres StoreKind = "postgres"
)

type Config struct {
	Addr       string
	CORSOrigin string
	// Upstream model
	OpenAIKey     string
	OpenAIBaseURL string
	Model         string
	Temperature   float64
	MaxTokens     int
	AITimeout     time.Duration
	// Durable store, optional
	StoreURL      string
	MigrationsDir string
	RateLimit     int
	RateWindow    time.Duration
	// Logging
	LogFilePath string
	Environment string
}

// Load reads the process environment after merging a .env file from the
// working directory, if one exists. Variables already set win over .env.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

// LoadFile is Load with an explicit .env path. A missing file is ignored.
func LoadFile(path string) Config {
	if path != "" {
		_ = godotenv.Load(path)
	}
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":3001"),
		CORSOrigin:    getenv("CLUPPO_CORS_ORIGIN", "*"),
		OpenAIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:         getenv("AI_MODEL", "gpt-4o-mini"),
		Temperature:   float64(getenvInt("AI_TEMPERATURE_TENTHS", 6)) / 10,
		MaxTokens:     getenvInt("AI_MAX_TOKENS", 280),
		AITimeout:     time.Duration(getenvInt("AI_TIMEOUT_SECONDS", 60)) * time.Second,
		StoreURL:      getenv("CLUPPO_STORE_URL", os.Getenv("REDIS_URL")),
		MigrationsDir: getenv("CLUPPO_MIGRATIONS_DIR", "./db/migrations"),
		RateLimit:     getenvInt("CLUPPO_RATE_LIMIT", 20),
		RateWindow:    time.Duration(getenvInt("CLUPPO_RATE_WINDOW_SECONDS", 60)) * time.Second,
		LogFilePath:   getenv("LOG_FILE_PATH", "./logs/cluppo-api.log"),
		Environment:   getenv("APP_ENV", "development"),
	}
}

// StoreKind picks the durable store from the URL scheme.
func (c Config) StoreKind() StoreKind {
	url := strings.ToLower(strings.TrimSpace(c.StoreURL))
	switch {
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return StoreRedis
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return StorePostgres
	default:
		return StoreNone
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
