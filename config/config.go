package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"codesync/pkg/logger"
)

// Config is built once at process start and passed down explicitly; no
// package keeps a global handle on the backend.
type Config struct {
	Addr        string
	DatabaseURL string // Postgres; when empty the embedded pebble store is used
	DataDir     string // pebble directory
	JWTSecret   string

	AppName     string
	SendgridKey string // console email service when empty
	EmailFrom   string

	AssistantURL string
	AssistantKey string

	PresenceTTL  time.Duration
	StoreTimeout time.Duration
}

// Load reads the environment, after loading a .env file if one exists.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	return Config{
		Addr:         getenv("ADDR", ":8080"),
		DatabaseURL:  getenv("DATABASE_URL", ""),
		DataDir:      getenv("DATA_DIR", "./data"),
		JWTSecret:    getenv("JWT_SECRET", ""),
		AppName:      getenv("APP_NAME", "codesync"),
		SendgridKey:  getenv("SENDGRID_API_KEY", ""),
		EmailFrom:    getenv("EMAIL_FROM", "noreply@codesync.local"),
		AssistantURL: getenv("ASSISTANT_URL", ""),
		AssistantKey: getenv("ASSISTANT_API_KEY", ""),
		PresenceTTL:  getdur("PRESENCE_TTL", time.Minute),
		StoreTimeout: getdur("STORE_TIMEOUT", 15*time.Second),
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getdur(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Sugar.Warnf("Invalid duration for %s: %v, using %s", key, err, fallback)
		return fallback
	}
	return d
}
