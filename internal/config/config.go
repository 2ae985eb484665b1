package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL        string
	RedisURL           string
	Port               string
	AccessTokenSecret  string
	RefreshTokenSecret string
	DeviceSalt         string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// Lockout policy: after MaxLoginFailures consecutive failures inside
	// LockoutWindow the account rejects logins until the window expires.
	MaxLoginFailures int
	LockoutWindow    time.Duration
	MaxMFAFailures   int
	MFAWindow        time.Duration

	// Per-IP rate limit for the auth endpoints.
	LoginRateLimit  int
	LoginRateWindow time.Duration

	DeviceTrustTTL time.Duration
	DevMode        bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		AccessTokenTTL:   getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:  getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		MaxLoginFailures: getEnvInt("MAX_LOGIN_FAILURES", 5),
		LockoutWindow:    getEnvDuration("LOCKOUT_WINDOW", 15*time.Minute),
		MaxMFAFailures:   getEnvInt("MAX_MFA_FAILURES", 5),
		MFAWindow:        getEnvDuration("MFA_WINDOW", 5*time.Minute),
		LoginRateLimit:   getEnvInt("LOGIN_RATE_LIMIT", 20),
		LoginRateWindow:  getEnvDuration("LOGIN_RATE_WINDOW", 10*time.Minute),
		DeviceTrustTTL:   getEnvDuration("DEVICE_TRUST_TTL", 30*24*time.Hour),
		DevMode:          os.Getenv("DEV_MODE") == "true",
	}

	var err error
	if cfg.DatabaseURL, err = requireEnv("DATABASE_URL"); err != nil {
		return nil, err
	}
	if cfg.AccessTokenSecret, err = requireEnv("ACCESS_TOKEN_SECRET"); err != nil {
		return nil, err
	}
	if cfg.RefreshTokenSecret, err = requireEnv("REFRESH_TOKEN_SECRET"); err != nil {
		return nil, err
	}
	if cfg.DeviceSalt, err = requireEnv("DEVICE_SALT"); err != nil {
		return nil, err
	}
	if len(cfg.AccessTokenSecret) < 32 || len(cfg.RefreshTokenSecret) < 32 {
		return nil, fmt.Errorf("token secrets must be at least 32 bytes for HS256")
	}
	if cfg.AccessTokenTTL >= cfg.RefreshTokenTTL {
		return nil, fmt.Errorf("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}

	// Redis is optional in dev mode; production requires the shared store
	// so counters are correct across instances.
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" && !cfg.DevMode {
		return nil, fmt.Errorf("REDIS_URL environment variable is required outside DEV_MODE")
	}

	return cfg, nil
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s environment variable is required", key)
	}
	return v, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
