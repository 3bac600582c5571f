package config

import (
	"os"
	"strings"
	"testing"
)

var managedVars = []string{
	"JOIN_TOKEN_SECRET", "INTERNAL_API_SECRET", "ALLOW_DEV_TOKEN_ISSUER",
	"DEV_ISSUER_SECRET", "PORT", "TURN_URLS", "TURN_SHARED_SECRET",
	"TURN_TTL_SECONDS", "TURN_RATE_LIMIT_MAX", "TURN_RATE_LIMIT_WINDOW_SEC",
	"REDIS_ENABLED", "REDIS_ADDR", "GO_ENV", "LOG_LEVEL",
}

func setupTestEnv(t *testing.T) func() {
	orig := make(map[string]string, len(managedVars))
	for _, key := range managedVars {
		orig[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	return func() {
		for key, val := range orig {
			if val != "" {
				os.Setenv(key, val)
			} else {
				os.Unsetenv(key)
			}
		}
	}
}

const validSecret = "this-is-a-very-long-secret-key-for-testing-purposes"

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("PORT", "8080")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.JoinTokenSecret != validSecret {
		t.Errorf("expected JOIN_TOKEN_SECRET to be set correctly")
	}
	if cfg.Port != "8080" {
		t.Errorf("expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.TURNTTLSeconds != defaultTURNTTLSeconds {
		t.Errorf("expected default TURN TTL of %d, got %d", defaultTURNTTLSeconds, cfg.TURNTTLSeconds)
	}
	if cfg.TURNRateLimitMax != defaultRateLimitMax {
		t.Errorf("expected default TURN rate limit max of %d, got %d", defaultRateLimitMax, cfg.TURNRateLimitMax)
	}
}

func TestValidateEnv_DefaultsPort(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected PORT to default to '8080', got '%s'", cfg.Port)
	}
}

func TestValidateEnv_MissingJoinTokenSecret(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing JOIN_TOKEN_SECRET, got nil")
	}
	if !strings.Contains(err.Error(), "JOIN_TOKEN_SECRET is required") {
		t.Errorf("expected error message about JOIN_TOKEN_SECRET, got: %v", err)
	}
}

func TestValidateEnv_ShortJoinTokenSecret(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", "short")
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for short JOIN_TOKEN_SECRET, got nil")
	}
	if !strings.Contains(err.Error(), "must be at least 32 characters") {
		t.Errorf("expected error message about JOIN_TOKEN_SECRET length, got: %v", err)
	}
}

func TestValidateEnv_MissingInternalAPISecret(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("PORT", "8080")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for missing INTERNAL_API_SECRET, got nil")
	}
	if !strings.Contains(err.Error(), "INTERNAL_API_SECRET is required") {
		t.Errorf("expected error message about INTERNAL_API_SECRET, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("PORT", "99999")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("expected error message about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_DevIssuerRequiresSecret(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("ALLOW_DEV_TOKEN_ISSUER", "true")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error when ALLOW_DEV_TOKEN_ISSUER=true without DEV_ISSUER_SECRET")
	}
	if !strings.Contains(err.Error(), "DEV_ISSUER_SECRET is required") {
		t.Errorf("expected DEV_ISSUER_SECRET error, got: %v", err)
	}
}

func TestValidateEnv_DevIssuerAllowedWithSecret(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("ALLOW_DEV_TOKEN_ISSUER", "true")
	os.Setenv("DEV_ISSUER_SECRET", "dev-secret")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if !cfg.AllowDevTokenIssuer {
		t.Error("expected AllowDevTokenIssuer to be true")
	}
}

func TestValidateEnv_TURNURLsRequireSharedSecret(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("TURN_URLS", "turn:turn.example.com:3478")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error when TURN_URLS is set without TURN_SHARED_SECRET")
	}
	if !strings.Contains(err.Error(), "TURN_SHARED_SECRET is required") {
		t.Errorf("expected TURN_SHARED_SECRET error, got: %v", err)
	}
}

func TestValidateEnv_TURNURLsParsed(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("TURN_URLS", "turn:a.example.com:3478, turn:b.example.com:3478")
	os.Setenv("TURN_SHARED_SECRET", "turn-secret")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if len(cfg.TURNURLs) != 2 {
		t.Fatalf("expected 2 TURN urls, got %d: %v", len(cfg.TURNURLs), cfg.TURNURLs)
	}
	if cfg.TURNURLs[1] != "turn:b.example.com:3478" {
		t.Errorf("expected trimmed second URL, got %q", cfg.TURNURLs[1])
	}
}

func TestValidateEnv_TURNTTLClampedToMinimum(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("TURN_TTL_SECONDS", "10")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.TURNTTLSeconds != minTURNTTLSeconds {
		t.Errorf("expected TURN TTL clamped to %d, got %d", minTURNTTLSeconds, cfg.TURNTTLSeconds)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("expected error message about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_RedisDefaultAddr(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("JOIN_TOKEN_SECRET", validSecret)
	os.Setenv("INTERNAL_API_SECRET", "also-a-secret")
	os.Setenv("REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected REDIS_ADDR to default to 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
}

func TestValidateEnv_MultipleErrorsAccumulate(t *testing.T) {
	defer setupTestEnv(t)()

	os.Setenv("PORT", "not-a-port")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "JOIN_TOKEN_SECRET is required") {
		t.Errorf("expected JOIN_TOKEN_SECRET error in accumulated list, got: %v", err)
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("expected PORT error in accumulated list, got: %v", err)
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Valid hostname", "example.com:443", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Multiple colons", "localhost:8080:9090", false},
		{"Empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidHostPort(tt.addr)
			if result != tt.expected {
				t.Errorf("isValidHostPort('%s') = %v, expected %v", tt.addr, result, tt.expected)
			}
		})
	}
}
