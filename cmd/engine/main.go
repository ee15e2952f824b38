package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cardvault/valuation-engine/internal/aggregator"
	"github.com/cardvault/valuation-engine/internal/api"
	"github.com/cardvault/valuation-engine/internal/config"
	"github.com/cardvault/valuation-engine/internal/events"
	"github.com/cardvault/valuation-engine/internal/orchestrator"
	"github.com/cardvault/valuation-engine/internal/pricing"
	"github.com/cardvault/valuation-engine/internal/reasoner"
	"github.com/cardvault/valuation-engine/internal/refstore"
	"github.com/cardvault/valuation-engine/internal/store"
	"github.com/cardvault/valuation-engine/internal/vision"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Info().Msg("Starting CardVault Valuation Engine...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}
	s3Client := s3.NewFromConfig(awsCfg)
	presigner := s3.NewPresignClient(s3Client)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	cardStore := store.New(dynamoClient, cfg.DynamoTableName)

	executions, err := store.ConnectExecutionStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Warn().Err(err).Msg("failed to connect execution-record store, executions will not be durably tracked")
	} else {
		defer executions.Close()
		if err := executions.InitSchema(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to initialize execution_records schema")
		}
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	providerLimiter := store.NewProviderRateLimiter(redisClient, 60, 10, time.Minute)

	refStore := refstore.New(s3Client, cfg.ReferenceBucket, log.Logger)
	assetFetcher := refstore.NewCardAssetFetcher(s3Client, cfg.CardAssetBucket)

	retryPolicy := func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Duration(cfg.RetryBaseMs) * time.Millisecond
		b.Multiplier = cfg.RetryBackoffFactor
		b.MaxElapsedTime = 0
		retries := cfg.RetryMaxAttempts - 1
		if retries < 0 {
			retries = 0
		}
		return backoff.WithMaxRetries(b, uint64(retries))
	}

	extractor := vision.New(assetFetcher, vision.LocalProvider{}, retryPolicy)
	reasonerSvc := reasoner.New(reasoner.LocalProvider{}, retryPolicy)

	adapters := buildPricingAdapters(cfg, providerLimiter)
	limiters := pricing.NewLimiters(2.0, 5)
	rates := pricing.RateTable{"USD": 1.0, "EUR": 1.08, "GBP": 1.27, "JPY": 0.0067}

	publisher := events.NewInProcessPublisher()
	publisher.OnValuationUpdated(func(e events.CardValuationUpdated) {
		log.Info().Str("cardId", e.CardID).Str("subject", e.Subject).Msg("card valuation updated")
	})
	publisher.OnAuthenticityFlagged(func(e events.AuthenticityFlagged) {
		log.Warn().Str("cardId", e.CardID).Float64("score", e.AuthenticityScore).Msg("authenticity flagged")
	})

	agg := aggregator.New(cardStore, publisher, cfg.AuthenticityFlagThreshold, log.Logger)

	hub := api.NewHub()
	go hub.Run()

	var executionStore orchestrator.ExecutionStore
	if executions != nil {
		executionStore = executions
	}

	orch := orchestrator.New(orchestrator.Deps{
		Extractor:             extractor,
		RefStore:              refStore,
		Reasoner:              reasonerSvc,
		Adapters:              adapters,
		Limiters:              limiters,
		Rates:                 rates,
		Aggregator:            agg,
		Executions:            executionStore,
		Progress:              hub,
		Log:                   log.Logger,
		PricingAdapterTimeout: cfg.PricingAdapterTimeout(),
		HardDeadline:          cfg.ExecutionHardDeadline(),
	})

	handler := api.NewHandler(cardStore, executions, presigner, orch, hub, cfg, log.Logger)
	router := api.SetupRouter(handler)

	log.Info().Str("port", cfg.Port).Msg("engine listening")
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// buildPricingAdapters constructs one HTTPAdapter per enabled marketplace
// tag, each wrapped with the Redis-backed cross-process rate limiter. Each
// adapter's base URL comes from PRICING_ADAPTER_<TAG>_URL (uppercased).
func buildPricingAdapters(cfg config.Config, limiter pricing.ProviderLimiter) []pricing.Adapter {
	client := &http.Client{Timeout: cfg.PricingAdapterTimeout()}
	adapters := make([]pricing.Adapter, 0, len(cfg.PricingAdaptersEnabled))
	for _, tag := range cfg.PricingAdaptersEnabled {
		envKey := fmt.Sprintf("PRICING_ADAPTER_%s_URL", upperSnake(tag))
		baseURL := os.Getenv(envKey)
		if baseURL == "" {
			log.Warn().Str("tag", tag).Str("envVar", envKey).Msg("pricing adapter enabled but no base URL configured, skipping")
			continue
		}
		base := pricing.NewHTTPAdapter(tag, baseURL, client)
		adapters = append(adapters, pricing.NewRateLimited(base, limiter))
	}
	return adapters
}

func upperSnake(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
