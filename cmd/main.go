package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"coronabot-fulfillment/handler"
	"coronabot-fulfillment/internal/domain"
	"coronabot-fulfillment/internal/integrations/paramstore"
	"coronabot-fulfillment/internal/integrations/prediction"
	"coronabot-fulfillment/internal/repository"
	"coronabot-fulfillment/internal/session"
	"coronabot-fulfillment/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	debug := envBool("DEBUG", false)
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	backend := strings.ToLower(envString("CONTEXT_BACKEND", "platform"))
	baseURL := strings.TrimSpace(os.Getenv("PREDICTION_BASE_URL"))
	countries := paramstore.SplitList(os.Getenv("ACCEPTED_COUNTRIES"))
	predictTimeout := time.Duration(envInt("PREDICTION_TIMEOUT_MS", 4000)) * time.Millisecond
	maxRetries := envInt("PREDICTION_MAX_RETRIES", 2)
	lifespan := envInt("CONTEXT_LIFESPAN", 100)

	// ---- AWS SDK config, loaded only when a component needs it ----
	var awsCfg *aws.Config
	loadAWS := func() aws.Config {
		if awsCfg == nil {
			cfg, err := config.LoadDefaultConfig(ctx)
			if err != nil {
				slog.Error("failed to load AWS config", "err", err)
				os.Exit(1)
			}
			awsCfg = &cfg
		}
		return *awsCfg
	}

	if baseURL == "" {
		paramPrefix := mustEnv("PARAM_PREFIX")
		ssmClient, err := paramstore.New(awsssm.NewFromConfig(loadAWS()))
		if err != nil {
			slog.Error("failed to create SSM client", "err", err)
			os.Exit(1)
		}
		settings, err := paramstore.LoadSettings(ctx, ssmClient, paramPrefix)
		if err != nil {
			slog.Error("failed to load settings", "prefix", paramPrefix, "err", err)
			os.Exit(1)
		}
		baseURL = settings.PredictionBaseURL
		if len(countries) == 0 {
			countries = settings.AcceptedCountries
		}
	}

	// ---- Clients ----
	var store session.Store
	switch backend {
	case "platform":
	case "dynamodb":
		stateClient, err := repository.New(awsdynamodb.NewFromConfig(loadAWS()), mustEnv("STATE_TABLE"))
		if err != nil {
			slog.Error("failed to create state client", "err", err)
			os.Exit(1)
		}
		store = stateClient
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: mustEnv("REDIS_ADDR")})
		stateClient, err := repository.NewRedis(rdb, envString("REDIS_KEY_PREFIX", ""))
		if err != nil {
			slog.Error("failed to create redis state client", "err", err)
			os.Exit(1)
		}
		store = stateClient
	default:
		slog.Error("unsupported context backend", "backend", backend)
		os.Exit(1)
	}

	predictor, err := prediction.NewClient(baseURL,
		prediction.WithRetry(maxRetries, 0),
		prediction.WithLogger(slog.Default().With("component", "prediction")),
	)
	if err != nil {
		slog.Error("failed to create prediction client", "err", err)
		os.Exit(1)
	}

	// ---- Handler ----
	svc, err := usecase.NewFulfillmentService(predictor, store, nil, usecase.Config{
		Registry:        domain.NewRegistry(countries...),
		ContextLifespan: lifespan,
		PredictTimeout:  predictTimeout,
		Debug:           debug,
	})
	if err != nil {
		slog.Error("failed to create fulfillment service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(svc)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	slog.Info("fulfillment webhook starting", "backend", backend, "intents", len(svc.Intents()))
	lambda.Start(h.Handle)
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		slog.Error("required environment variable is not set", "key", key)
		os.Exit(1)
	}
	return v
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
