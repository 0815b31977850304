package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoragePath string

	ImageProvider string
	HFAPIKey      string
	HFBaseURL     string

	MaxConcurrentJobs int
	SchedulerTick     time.Duration
	ProviderTimeout   time.Duration
	AssessTimeout     time.Duration
	StoreTimeout      time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL is optional: when empty the service
// runs against the in-memory job store, which does not survive restarts.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		ImageProvider:     getEnv("IMAGE_PROVIDER", "huggingface"),
		HFAPIKey:          os.Getenv("HF_API_KEY"),
		HFBaseURL:         getEnv("HF_BASE_URL", "https://api-inference.huggingface.co"),
		MaxConcurrentJobs: getEnvInt("MAX_CONCURRENT_JOBS", 3),
		SchedulerTick:     time.Second * time.Duration(getEnvInt("SCHEDULER_TICK_SECONDS", 3)),
		ProviderTimeout:   time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 90)),
		AssessTimeout:     time.Second * time.Duration(getEnvInt("ASSESS_TIMEOUT_SECONDS", 10)),
		StoreTimeout:      time.Second * time.Duration(getEnvInt("STORE_TIMEOUT_SECONDS", 10)),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.MaxConcurrentJobs < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}
	if cfg.SchedulerTick <= 0 {
		return nil, fmt.Errorf("SCHEDULER_TICK_SECONDS must be positive")
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
