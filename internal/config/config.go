package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
)

type Config struct {
	Port           string
	DatabaseURL    string
	Store          string // "postgres" or "memory"
	FrontendOrigin string
	RedisURL       string
	RedisPassword  string
	LogLevel       slog.Level

	IngestInterval       time.Duration
	IngestJitter         time.Duration
	PriceInterval        time.Duration
	SourceTimeout        time.Duration
	RetryMaxAttempts     uint
	RetryInitialInterval time.Duration
	PassLockTTL          time.Duration

	PageSizeMax    int
	PriceCacheSize int
	PriceCacheTTL  time.Duration

	PriceAPIURL      string
	PriceAPIKey      string
	ValidatorInfoURL string
	CatalogFile      string
	OTELEndpoint     string

	RateLimitRPS   float64
	RateLimitBurst int
}

func Load() Config {
	cfg := Config{
		Port:           envOr("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		Store:          strings.ToLower(envOr("STORE", "postgres")),
		FrontendOrigin: envOr("FRONTEND_ORIGIN", "*"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		LogLevel:       envLevel("LOG_LEVEL", slog.LevelInfo),

		IngestInterval:       envDuration("INGEST_INTERVAL", 6*time.Hour),
		IngestJitter:         envDuration("INGEST_JITTER", 0),
		PriceInterval:        envDuration("PRICE_INTERVAL", 30*time.Minute),
		SourceTimeout:        envDuration("SOURCE_TIMEOUT", 5*time.Minute),
		RetryMaxAttempts:     uint(envInt("RETRY_MAX_ATTEMPTS", 3)),
		RetryInitialInterval: envDuration("RETRY_INITIAL_INTERVAL", 2*time.Second),
		PassLockTTL:          envDuration("PASS_LOCK_TTL", 30*time.Minute),

		PageSizeMax:    envInt("PAGE_SIZE_MAX", 100),
		PriceCacheSize: envInt("PRICE_CACHE_SIZE", 1024),
		PriceCacheTTL:  envDuration("PRICE_CACHE_TTL", time.Minute),

		PriceAPIURL:      envOr("PRICE_API_URL", "https://api.coingecko.com/api/v3"),
		PriceAPIKey:      os.Getenv("PRICE_API_KEY"),
		ValidatorInfoURL: envOr("VALIDATOR_INFO_URL", "https://validator.info"),
		CatalogFile:      os.Getenv("CATALOG_FILE"),
		OTELEndpoint:     os.Getenv("OTEL_ENDPOINT"),

		RateLimitRPS:   envFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 40),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL",
		"http://infisical-infisical-standalone-infisical.infisical.svc.cluster.local:8080")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(clientID, clientSecret)
	if err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	for key, target := range secretTargets(cfg) {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

// secretTargets maps Infisical secret keys to the fields they fill.
func secretTargets(cfg *Config) map[string]*string {
	return map[string]*string{
		"DATABASE_URL":   &cfg.DatabaseURL,
		"REDIS_PASSWORD": &cfg.RedisPassword,
		"PRICE_API_KEY":  &cfg.PriceAPIKey,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		slog.Warn("invalid number, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return f
}

func envLevel(key string, fallback slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("invalid log level, using default", "key", key, "value", v)
		return fallback
	}
	return l
}
