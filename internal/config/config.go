package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURI string
	HTTPAddr    string

	// SweepInterval is the dispatcher cadence; the delivery window of each
	// sweep equals it.
	SweepInterval time.Duration

	// Gateway selects the delivery driver: console, fcm or telegram.
	Gateway       string
	FCMServerKey  string
	TelegramToken string

	AIAPIKey  string
	AIBaseURL string
	AIModel   string

	CORSAllowedOrigins []string
	DefaultTime        string
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	cfg := &Config{
		DatabaseURI:   os.Getenv("DATABASE_URI"),
		HTTPAddr:      getEnvOrDefault("HTTP_ADDR", ":8080"),
		Gateway:       getEnvOrDefault("GATEWAY", "console"),
		FCMServerKey:  os.Getenv("FCM_SERVER_KEY"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		AIAPIKey:      os.Getenv("AI_API_KEY"),
		AIBaseURL:     getEnvOrDefault("AI_BASE_URL", "https://openrouter.ai/api/v1"),
		AIModel:       getEnvOrDefault("AI_MODEL", "openai/gpt-4o-mini"),
		DefaultTime:   getEnvOrDefault("DEFAULT_REMINDER_TIME", "09:00"),
	}

	interval, err := time.ParseDuration(getEnvOrDefault("SWEEP_INTERVAL", "1m"))
	if err != nil {
		return nil, err
	}
	cfg.SweepInterval = interval

	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
