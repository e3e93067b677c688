// Package config resolves runtime settings: defaults, then an optional YAML
// file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	MaxDBConns  int32
	RedisURL    string
	JWTSecret   string
	LogMode     string

	MonthlyFeeLimit    decimal.Decimal
	MonthlyLimitStrict bool
	DisputeWindow      time.Duration
	OTPTTL             time.Duration
	TokenTTL           time.Duration
	NotifyTimeout      time.Duration
	DefaultLanguage    string
}

// configFile mirrors the YAML schema of config.yaml.
type configFile struct {
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Dependencies struct {
		PostgresURL string `yaml:"postgres_url"`
		MaxDBConns  int32  `yaml:"max_db_conns"`
		RedisURL    string `yaml:"redis_url"`
	} `yaml:"dependencies"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		OTPTTL    string `yaml:"otp_ttl"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Contracts struct {
		MonthlyFeeLimit    string `yaml:"monthly_fee_limit"`
		MonthlyLimitStrict *bool  `yaml:"monthly_limit_strict"`
		DisputeWindow      string `yaml:"dispute_window"`
	} `yaml:"contracts"`
	Notifications struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"notifications"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Language string `yaml:"default_language"`
}

func defaults() Config {
	return Config{
		HTTPAddr:        ":8080",
		MaxDBConns:      20,
		LogMode:         "development",
		MonthlyFeeLimit: decimal.NewFromInt(10000),
		DisputeWindow:   48 * time.Hour,
		OTPTTL:          5 * time.Minute,
		TokenTTL:        24 * time.Hour,
		NotifyTimeout:   5 * time.Second,
		DefaultLanguage: "en",
	}
}

// Load resolves configuration in priority order: defaults -> file -> env. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := applyFile(&cfg, raw); err != nil {
				return Config{}, err
			}
		case !errors.Is(err, fs.ErrNotExist):
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []string
	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		problems = append(problems, "JWT_SECRET is required")
	}
	if c.MonthlyFeeLimit.IsNegative() {
		problems = append(problems, "monthly fee limit must not be negative")
	}
	if c.DisputeWindow <= 0 {
		problems = append(problems, "dispute window must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func applyFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("config: parse file: %w", err)
	}
	setString(&cfg.HTTPAddr, f.HTTP.Addr)
	setString(&cfg.DatabaseURL, f.Dependencies.PostgresURL)
	if f.Dependencies.MaxDBConns > 0 {
		cfg.MaxDBConns = f.Dependencies.MaxDBConns
	}
	setString(&cfg.RedisURL, f.Dependencies.RedisURL)
	setString(&cfg.JWTSecret, f.Auth.JWTSecret)
	setString(&cfg.LogMode, f.Log.Mode)
	setString(&cfg.DefaultLanguage, f.Language)
	if f.Contracts.MonthlyLimitStrict != nil {
		cfg.MonthlyLimitStrict = *f.Contracts.MonthlyLimitStrict
	}
	if f.Contracts.MonthlyFeeLimit != "" {
		d, err := decimal.NewFromString(f.Contracts.MonthlyFeeLimit)
		if err != nil {
			return fmt.Errorf("config: monthly_fee_limit: %w", err)
		}
		cfg.MonthlyFeeLimit = d
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{f.Auth.OTPTTL, &cfg.OTPTTL, "otp_ttl"},
		{f.Auth.TokenTTL, &cfg.TokenTTL, "token_ttl"},
		{f.Contracts.DisputeWindow, &cfg.DisputeWindow, "dispute_window"},
		{f.Notifications.Timeout, &cfg.NotifyTimeout, "notifications.timeout"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, os.Getenv("HTTP_ADDR"))
	setString(&cfg.DatabaseURL, os.Getenv("DATABASE_URL"))
	setString(&cfg.RedisURL, os.Getenv("REDIS_URL"))
	setString(&cfg.JWTSecret, os.Getenv("JWT_SECRET"))
	setString(&cfg.LogMode, os.Getenv("LOG_MODE"))

	if raw := os.Getenv("MONTHLY_FEE_LIMIT"); raw != "" {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("config: MONTHLY_FEE_LIMIT: %w", err)
		}
		cfg.MonthlyFeeLimit = d
	}
	if raw := os.Getenv("MONTHLY_LIMIT_STRICT"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("config: MONTHLY_LIMIT_STRICT: %w", err)
		}
		cfg.MonthlyLimitStrict = v
	}
	if raw := os.Getenv("DISPUTE_WINDOW_HOURS"); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil || h <= 0 {
			return fmt.Errorf("config: DISPUTE_WINDOW_HOURS must be a positive integer")
		}
		cfg.DisputeWindow = time.Duration(h) * time.Hour
	}
	if raw := os.Getenv("OTP_TTL_SECONDS"); raw != "" {
		s, err := strconv.Atoi(raw)
		if err != nil || s <= 0 {
			return fmt.Errorf("config: OTP_TTL_SECONDS must be a positive integer")
		}
		cfg.OTPTTL = time.Duration(s) * time.Second
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
