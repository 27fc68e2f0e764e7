package infra

import (
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	VeoAPIKey  string
	VeoBaseURL string
	VeoModel   string

	DailyQuotaLimit   int
	MonthlyQuotaLimit int

	SubmitMaxRetries  int
	SubmitBackoffBase time.Duration
	SubmitBackoffCap  time.Duration

	PollTimeout  time.Duration
	PollInterval time.Duration

	QueueTickInterval time.Duration
	QueueTickDisabled bool

	HTTPReadTimeout       time.Duration
	HTTPReadHeaderTimeout time.Duration
	HTTPWriteTimeout      time.Duration
	HTTPIdleTimeout       time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL is optional: without it the
// service runs on the in-memory stores, which is what local and CI
// environments use.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		VeoAPIKey:         os.Getenv("VEO_API_KEY"),
		VeoBaseURL:        getEnv("VEO_BASE_URL", "https://us-central1-aiplatform.googleapis.com/v1"),
		VeoModel:          getEnv("VEO_MODEL", "veo-3.0-generate-preview"),
		DailyQuotaLimit:   getEnvInt("VIDEO_DAILY_QUOTA", 25),
		MonthlyQuotaLimit: getEnvInt("VIDEO_MONTHLY_QUOTA", 500),
		SubmitMaxRetries:  getEnvInt("SUBMIT_MAX_RETRIES", 5),
		SubmitBackoffBase: time.Second * time.Duration(getEnvInt("SUBMIT_BACKOFF_BASE_SECONDS", 60)),
		SubmitBackoffCap:  time.Second * time.Duration(getEnvInt("SUBMIT_BACKOFF_CAP_SECONDS", 600)),
		PollTimeout:       time.Second * time.Duration(getEnvInt("POLL_TIMEOUT_SECONDS", 300)),
		PollInterval:      time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 10)),
		QueueTickInterval: time.Second * time.Duration(getEnvInt("QUEUE_TICK_SECONDS", 60)),
		QueueTickDisabled: getEnv("QUEUE_TICK_DISABLED", "") == "true",
		HTTPReadTimeout:       time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPReadHeaderTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_HEADER_TIMEOUT_SECONDS", 5)),
		HTTPWriteTimeout:      time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:       time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
