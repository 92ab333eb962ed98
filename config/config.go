package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kataras/golog"
)

// Config holds the server configuration read from the environment.
type Config struct {
	Port string

	// Database
	DBDriver           string // postgres or sqlite
	DBConnectionString string

	RedisURL string

	// Secrets
	AccessTokenSecret string
	OAuthStateSecret  string

	// Google Calendar
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	GoogleJWKSURL      string
	CalendarWebhookURL string
	CalendarTimeout    time.Duration

	SyncThrottle    time.Duration
	ThrottleBackend string // memory or redis

	// ExpirySchedule is a cron spec, e.g. "@every 5m" or "*/5 * * * *"
	ExpirySchedule string

	LogLevel string
}

// Load reads the environment. A .env file is loaded first outside of Render deployments.
func Load() *Config {
	if os.Getenv("RENDER") == "" {
		if err := godotenv.Load(); err != nil {
			golog.Debug("no .env file loaded (this is normal in production)")
		}
	}

	return &Config{
		Port: envOrDefault("PORT", "4000"),

		DBDriver:           envOrDefault("DB_DRIVER", "postgres"),
		DBConnectionString: os.Getenv("DB_CONNECTION_STRING"),

		RedisURL: os.Getenv("REDIS_URL"),

		AccessTokenSecret: os.Getenv("ACCESS_TOKEN_SECRET"),
		OAuthStateSecret:  envOrDefault("OAUTH_STATE_SECRET", os.Getenv("ACCESS_TOKEN_SECRET")),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  envOrDefault("GOOGLE_REDIRECT_URL", "http://localhost:4000/api/calendar/google/callback"),
		GoogleJWKSURL:      os.Getenv("GOOGLE_JWKS_URL"),
		CalendarWebhookURL: os.Getenv("CALENDAR_WEBHOOK_URL"),
		CalendarTimeout:    envOrDefaultDuration("CALENDAR_TIMEOUT", 10*time.Second),

		SyncThrottle:    envOrDefaultDuration("SYNC_THROTTLE", 30*time.Second),
		ThrottleBackend: envOrDefault("THROTTLE_BACKEND", "memory"),
		ExpirySchedule:  envOrDefault("EXPIRY_SCHEDULE", "@every 5m"),

		LogLevel: envOrDefault("LOG_LEVEL", "info"),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOrDefaultDuration accepts Go durations ("30s") or plain seconds ("30").
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	golog.Warnf("⚠️ %s=%q is not a duration, using %s", key, v, fallback)
	return fallback
}
