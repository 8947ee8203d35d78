package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	// Upstream platform API (opaque backend, cookie-credentialed).
	UpstreamBaseURL string
	UpstreamTimeout time.Duration

	// Hosted payment widget invocation key. Confirmation runs through the
	// upstream platform API, so no provider secret lives here.
	TossClientKey string

	// Public base URL of this service; redirect success/fail URLs are built
	// on top of it.
	PublicBaseURL string

	DatabaseURL string
	RedisURL    string

	// Session cookie issued by the platform; beanpay only validates it.
	SessionCookieName string
	SessionJWTSecret  string
	LoginURL          string
	ProtectedPrefixes []string

	CORSAllowedOrigins []string

	IntentTTL            time.Duration
	ConfirmGuardTTL      time.Duration
	AutoRedirectSeconds  int
	IntentRatePerMinute  int64
	HistoryCacheTTL      time.Duration
	UpstreamRetryMax     int
	UpstreamRetryBackoff time.Duration
	MaxBodyBytes         int64
}

// Load reads configuration from environment variables and optional .env files.
// Missing required values are a fatal configuration error, not a runtime one.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:               valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                 valueOrDefault(k.String("PORT"), "8080"),
		UpstreamBaseURL:      strings.TrimRight(strings.TrimSpace(k.String("UPSTREAM_BASE_URL")), "/"),
		UpstreamTimeout:      parseDuration(k.String("UPSTREAM_TIMEOUT"), "10s"),
		TossClientKey:        strings.TrimSpace(k.String("TOSS_CLIENT_KEY")),
		PublicBaseURL:        strings.TrimRight(strings.TrimSpace(k.String("PUBLIC_BASE_URL")), "/"),
		DatabaseURL:          k.String("DATABASE_URL"),
		RedisURL:             k.String("REDIS_URL"),
		SessionCookieName:    valueOrDefault(k.String("SESSION_COOKIE_NAME"), "bean_session"),
		SessionJWTSecret:     k.String("SESSION_JWT_SECRET"),
		LoginURL:             valueOrDefault(k.String("LOGIN_URL"), "/login"),
		ProtectedPrefixes:    splitAndTrim(valueOrDefault(k.String("PROTECTED_PREFIXES"), "/api/v1,/payments,/billing")),
		CORSAllowedOrigins:   splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		IntentTTL:            parseDuration(k.String("PAYMENT_INTENT_TTL"), "30m"),
		ConfirmGuardTTL:      parseDuration(k.String("CONFIRM_GUARD_TTL"), "24h"),
		AutoRedirectSeconds:  parseInt(k.String("AUTO_REDIRECT_SECONDS"), 5),
		IntentRatePerMinute:  int64(parseInt(k.String("INTENT_RATE_PER_MINUTE"), 10)),
		HistoryCacheTTL:      parseDuration(k.String("HISTORY_CACHE_TTL"), "30s"),
		UpstreamRetryMax:     parseInt(k.String("UPSTREAM_RETRY_MAX"), 3),
		UpstreamRetryBackoff: parseDuration(k.String("UPSTREAM_RETRY_BACKOFF"), "200ms"),
		MaxBodyBytes:         int64(parseInt(k.String("MAX_BODY_BYTES"), 1<<20)),
	}

	if cfg.UpstreamBaseURL == "" {
		return nil, errors.New("UPSTREAM_BASE_URL is required")
	}
	if cfg.TossClientKey == "" {
		return nil, errors.New("TOSS_CLIENT_KEY is required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("PUBLIC_BASE_URL is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SessionJWTSecret == "" {
		return nil, errors.New("SESSION_JWT_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(trimmed, "%d", &n); err != nil {
		return fallback
	}
	return n
}

// LoadForTests allows tests to override environment variables without
// leaking values into the real environment.
func LoadForTests(envVars map[string]string) (*Config, error) {
	original := make(map[string]string, len(envVars))
	for key := range envVars {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, envVars[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
