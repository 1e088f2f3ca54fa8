package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	DefaultCurrency string

	TaxMode            string
	ManualTaxRateBps   int64
	FallbackTaxRateBps int64
	TaxInclusivePrices bool
	TaxShipping        bool
	TaxProviderURL     string
	TaxProviderAPIKey  string
	TaxProviderTimeout time.Duration

	ShippingProviderURL    string
	ShippingProviderAPIKey string

	MultiDiscountStacking bool

	CartTTL      time.Duration
	RateCacheTTL time.Duration

	RatePerMinute int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		DefaultCurrency: strings.ToUpper(valueOrDefault(k.String("DEFAULT_CURRENCY"), "USD")),

		TaxMode:            strings.ToUpper(valueOrDefault(k.String("TAX_MODE"), "AUTO")),
		ManualTaxRateBps:   parseInt(k.String("MANUAL_TAX_RATE_BPS"), 0),
		FallbackTaxRateBps: parseInt(k.String("FALLBACK_TAX_RATE_BPS"), 0),
		TaxInclusivePrices: parseBool(k.String("TAX_INCLUSIVE_PRICES")),
		TaxShipping:        parseBool(k.String("TAX_SHIPPING")),
		TaxProviderURL:     k.String("TAX_PROVIDER_URL"),
		TaxProviderAPIKey:  k.String("TAX_PROVIDER_API_KEY"),
		TaxProviderTimeout: parseDuration(k.String("TAX_PROVIDER_TIMEOUT"), "2s"),

		ShippingProviderURL:    k.String("SHIPPING_PROVIDER_URL"),
		ShippingProviderAPIKey: k.String("SHIPPING_PROVIDER_API_KEY"),

		MultiDiscountStacking: parseBool(k.String("MULTI_DISCOUNT_STACKING")),

		CartTTL:      parseDuration(k.String("CART_TTL"), "72h"),
		RateCacheTTL: parseDuration(k.String("RATE_CACHE_TTL"), "10m"),

		RatePerMinute: int(parseInt(k.String("RATE_PER_MINUTE"), 300)),
	}

	switch cfg.TaxMode {
	case "AUTO", "MANUAL", "NONE":
	default:
		return nil, fmt.Errorf("TAX_MODE must be AUTO, MANUAL or NONE, got %q", cfg.TaxMode)
	}
	if len(cfg.DefaultCurrency) != 3 {
		return nil, fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter ISO code, got %q", cfg.DefaultCurrency)
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int64) int64 {
	base := strings.TrimSpace(value)
	if base == "" {
		return fallback
	}
	n, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
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
