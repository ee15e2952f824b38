// Package config loads the engine's runtime configuration from environment
// variables: security-sensitive values have no fallback and fail fast at
// startup, everything else takes a safe default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every option enumerated for the engine.
type Config struct {
	Port string

	// AWS / storage
	AWSRegion       string
	CardAssetBucket string
	ReferenceBucket string
	DynamoTableName string

	// Postgres (execution records)
	DatabaseURL string

	// Redis (provider rate limiting)
	RedisAddr string

	// Upload + idempotency
	MaxUploadBytes       int64
	AllowedMimeTypes     []string
	PresignTTLSeconds    int
	IdempotencyTTLSeconds int

	// Valuation policy
	RevalueWhenDays            int
	AuthenticityFlagThreshold  float64
	PricingAdapterTimeoutMs    int
	PricingAdaptersEnabled     []string
	ExecutionHardDeadlineMs    int

	// Retry policy (§4.5, shared by the vision and reasoner steps; pricing
	// adapter calls are not retried)
	RetryMaxAttempts     int
	RetryBaseMs          int
	RetryBackoffFactor   float64

	LogLevel string
}

// Load reads Config from the process environment. Credentials and other
// security-sensitive values are required and a missing one makes Load
// return an error; everything else falls back to a documented default.
func Load() (Config, error) {
	maxUploadBytes, err := parseInt64(getEnvOrDefault("MAX_UPLOAD_BYTES", "12582912"))
	if err != nil {
		return Config{}, fmt.Errorf("config: MAX_UPLOAD_BYTES: %w", err)
	}

	presignTTL, err := strconv.Atoi(getEnvOrDefault("PRESIGN_TTL_SECONDS", "300"))
	if err != nil {
		return Config{}, fmt.Errorf("config: PRESIGN_TTL_SECONDS: %w", err)
	}

	idempotencyTTL, err := strconv.Atoi(getEnvOrDefault("IDEMPOTENCY_TTL_SECONDS", "600"))
	if err != nil {
		return Config{}, fmt.Errorf("config: IDEMPOTENCY_TTL_SECONDS: %w", err)
	}

	revalueWhenDays, err := strconv.Atoi(getEnvOrDefault("REVALUE_WHEN_DAYS", "30"))
	if err != nil {
		return Config{}, fmt.Errorf("config: REVALUE_WHEN_DAYS: %w", err)
	}

	flagThreshold, err := strconv.ParseFloat(getEnvOrDefault("AUTHENTICITY_FLAG_THRESHOLD", "0.5"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("config: AUTHENTICITY_FLAG_THRESHOLD: %w", err)
	}

	pricingTimeoutMs, err := strconv.Atoi(getEnvOrDefault("PRICING_ADAPTER_TIMEOUT_MS", "10000"))
	if err != nil {
		return Config{}, fmt.Errorf("config: PRICING_ADAPTER_TIMEOUT_MS: %w", err)
	}

	hardDeadlineMs, err := strconv.Atoi(getEnvOrDefault("EXECUTION_HARD_DEADLINE_MS", "180000"))
	if err != nil {
		return Config{}, fmt.Errorf("config: EXECUTION_HARD_DEADLINE_MS: %w", err)
	}

	retryMaxAttempts, err := strconv.Atoi(getEnvOrDefault("RETRY_MAX_ATTEMPTS", "3"))
	if err != nil {
		return Config{}, fmt.Errorf("config: RETRY_MAX_ATTEMPTS: %w", err)
	}

	retryBaseMs, err := strconv.Atoi(getEnvOrDefault("RETRY_BASE_MS", "2000"))
	if err != nil {
		return Config{}, fmt.Errorf("config: RETRY_BASE_MS: %w", err)
	}

	retryFactor, err := strconv.ParseFloat(getEnvOrDefault("RETRY_BACKOFF_FACTOR", "2"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("config: RETRY_BACKOFF_FACTOR: %w", err)
	}

	cardAssetBucket, err := requireEnv("CARD_ASSET_BUCKET")
	if err != nil {
		return Config{}, err
	}
	referenceBucket, err := requireEnv("REFERENCE_HASH_BUCKET")
	if err != nil {
		return Config{}, err
	}
	databaseURL, err := requireEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port: getEnvOrDefault("PORT", "5339"),

		AWSRegion:       getEnvOrDefault("AWS_REGION", "us-east-1"),
		CardAssetBucket: cardAssetBucket,
		ReferenceBucket: referenceBucket,
		DynamoTableName: getEnvOrDefault("DYNAMO_TABLE_NAME", "cardvault"),

		DatabaseURL: databaseURL,
		RedisAddr:   getEnvOrDefault("REDIS_ADDR", "localhost:6379"),

		MaxUploadBytes:        maxUploadBytes,
		AllowedMimeTypes:      splitCSV(getEnvOrDefault("ALLOWED_MIME_TYPES", "image/jpeg,image/png,image/webp")),
		PresignTTLSeconds:     presignTTL,
		IdempotencyTTLSeconds: idempotencyTTL,

		RevalueWhenDays:           revalueWhenDays,
		AuthenticityFlagThreshold: flagThreshold,
		PricingAdapterTimeoutMs:   pricingTimeoutMs,
		PricingAdaptersEnabled:    splitCSV(getEnvOrDefault("PRICING_ADAPTERS_ENABLED", "tcgplayer,ebay")),
		ExecutionHardDeadlineMs:   hardDeadlineMs,

		RetryMaxAttempts:   retryMaxAttempts,
		RetryBaseMs:        retryBaseMs,
		RetryBackoffFactor: retryFactor,

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func (c Config) PricingAdapterTimeout() time.Duration {
	return time.Duration(c.PricingAdapterTimeoutMs) * time.Millisecond
}

func (c Config) ExecutionHardDeadline() time.Duration {
	return time.Duration(c.ExecutionHardDeadlineMs) * time.Millisecond
}

func (c Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLSeconds) * time.Second
}

func (c Config) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLSeconds) * time.Second
}

// requireEnv reads a required environment variable, returning an error
// instead of exiting so callers (and tests) can handle a missing value
// without the process dying mid-Load.
func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("config: required environment variable %s is not set", key)
	}
	return val, nil
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
