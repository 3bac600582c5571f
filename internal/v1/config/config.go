// Package config validates and holds this service's environment
// configuration, grounded on the teacher's internal/v1/config: the same
// accumulate-all-errors-then-report ValidateEnv() shape, adapted from the
// video-conferencing variables (JWT_SECRET, RUST_SFU_ADDR, ...) to the
// signaling surface's own configuration surface.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/roomrelay/signaling-server/internal/v1/logging"
)

// Config holds validated environment configuration.
type Config struct {
	JoinTokenSecret     string
	InternalAPISecret   string
	DevIssuerSecret     string
	AllowDevTokenIssuer bool

	// TURN credential minting. Optional: when TURNSharedSecret is empty,
	// /turn-credentials omits the turn entry rather than erroring.
	TURNURLs         []string
	TURNSharedSecret string
	TURNTTLSeconds   int

	TURNRateLimitMax       int64
	TURNRateLimitWindowSec int64

	Port          string
	GoEnv         string
	LogLevel      string
	RedisAddr     string
	RedisEnabled  bool
	RedisPassword string

	AllowedOrigins string
}

const (
	defaultTURNTTLSeconds  = 3600
	minTURNTTLSeconds      = 60
	defaultRateLimitMax    = 10
	defaultRateLimitWindow = 60
)

// ValidateEnv validates all required environment variables and returns a
// Config. Validation errors are accumulated and returned together, rather
// than failing fast on the first one.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.JoinTokenSecret = os.Getenv("JOIN_TOKEN_SECRET")
	if cfg.JoinTokenSecret == "" {
		errs = append(errs, "JOIN_TOKEN_SECRET is required")
	} else if len(cfg.JoinTokenSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JOIN_TOKEN_SECRET must be at least 32 characters (got %d)", len(cfg.JoinTokenSecret)))
	}

	cfg.InternalAPISecret = os.Getenv("INTERNAL_API_SECRET")
	if cfg.InternalAPISecret == "" {
		errs = append(errs, "INTERNAL_API_SECRET is required")
	}

	cfg.AllowDevTokenIssuer = os.Getenv("ALLOW_DEV_TOKEN_ISSUER") == "true"
	cfg.DevIssuerSecret = os.Getenv("DEV_ISSUER_SECRET")
	if cfg.AllowDevTokenIssuer && cfg.DevIssuerSecret == "" {
		errs = append(errs, "DEV_ISSUER_SECRET is required when ALLOW_DEV_TOKEN_ISSUER=true")
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "8080"
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	if raw := os.Getenv("TURN_URLS"); raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.TURNURLs = append(cfg.TURNURLs, u)
			}
		}
	}
	cfg.TURNSharedSecret = os.Getenv("TURN_SHARED_SECRET")
	if len(cfg.TURNURLs) > 0 && cfg.TURNSharedSecret == "" {
		errs = append(errs, "TURN_SHARED_SECRET is required when TURN_URLS is set")
	}

	cfg.TURNTTLSeconds = defaultTURNTTLSeconds
	if raw := os.Getenv("TURN_TTL_SECONDS"); raw != "" {
		ttl, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Sprintf("TURN_TTL_SECONDS must be an integer (got '%s')", raw))
		} else {
			if ttl < minTURNTTLSeconds {
				ttl = minTURNTTLSeconds
			}
			cfg.TURNTTLSeconds = ttl
		}
	}

	cfg.TURNRateLimitMax = getEnvInt64OrDefault("TURN_RATE_LIMIT_MAX", defaultRateLimitMax)
	cfg.TURNRateLimitWindowSec = getEnvInt64OrDefault("TURN_RATE_LIMIT_WINDOW_SEC", defaultRateLimitWindow)

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	logging.Info(nil, "environment configuration validated",
		zap.String("port", cfg.Port),
		zap.String("go_env", cfg.GoEnv),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("redis_enabled", cfg.RedisEnabled),
		zap.Bool("turn_configured", cfg.TURNSharedSecret != ""),
		zap.Int("turn_ttl_seconds", cfg.TURNTTLSeconds),
		zap.Bool("dev_token_issuer_allowed", cfg.AllowDevTokenIssuer),
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return defaultValue
	}
	return v
}
