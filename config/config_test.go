package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "LOG_MODE", "MONTHLY_FEE_LIMIT", "MONTHLY_LIMIT_STRICT", "DISPUTE_WINDOW_HOURS", "OTP_TTL_SECONDS"} {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultsFileEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
http:
  addr: ":9000"
dependencies:
  postgres_url: postgres://file
  redis_url: redis://file:6379
auth:
  jwt_secret: from-file
  otp_ttl: 2m
contracts:
  monthly_fee_limit: "5000"
  monthly_limit_strict: true
  dispute_window: 24h
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("DISPUTE_WINDOW_HOURS", "72")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" || cfg.JWTSecret != "from-file" || cfg.RedisURL != "redis://file:6379" {
		t.Fatalf("expected file values, got %+v", cfg)
	}
	if cfg.DatabaseURL != "postgres://env" {
		t.Fatalf("expected env override, got %q", cfg.DatabaseURL)
	}
	if cfg.DisputeWindow != 72*time.Hour || cfg.OTPTTL != 2*time.Minute {
		t.Fatalf("unexpected durations window=%s otp=%s", cfg.DisputeWindow, cfg.OTPTTL)
	}
	if cfg.MonthlyFeeLimit.String() != "5000" || !cfg.MonthlyLimitStrict {
		t.Fatalf("unexpected limit settings %s strict=%v", cfg.MonthlyFeeLimit, cfg.MonthlyLimitStrict)
	}
	if cfg.TokenTTL != 24*time.Hour || cfg.DefaultLanguage != "en" {
		t.Fatalf("expected defaults kept, got %+v", cfg)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("MONTHLY_FEE_LIMIT", "10000.50")
	t.Setenv("OTP_TTL_SECONDS", "300")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DisputeWindow != 48*time.Hour || cfg.HTTPAddr != ":8080" || cfg.MonthlyLimitStrict {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if cfg.MonthlyFeeLimit.String() != "10000.5" || cfg.OTPTTL != 5*time.Minute {
		t.Fatalf("unexpected env values %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected missing DATABASE_URL reported, got %v", err)
	}

	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("MONTHLY_LIMIT_STRICT", "maybe")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected bad bool rejected")
	}

	t.Setenv("MONTHLY_LIMIT_STRICT", "")
	t.Setenv("DISPUTE_WINDOW_HOURS", "-1")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected bad window rejected")
	}

	t.Setenv("DISPUTE_WINDOW_HOURS", "")
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("contracts:\n  dispute_window: soon\n"), 0o600)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected bad duration rejected")
	}
}
