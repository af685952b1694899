package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/citylens/citylens/internal/dispatch"
	"github.com/citylens/citylens/internal/metrics"
	"github.com/citylens/citylens/internal/middleware"
	"github.com/citylens/citylens/internal/providers"
	"github.com/citylens/citylens/internal/ratelimit"
	"github.com/citylens/citylens/internal/registry"
	"github.com/citylens/citylens/internal/repository"
	"github.com/citylens/citylens/internal/services"
	"github.com/citylens/citylens/internal/tracing"
	"github.com/citylens/citylens/pkg/auth"
	"github.com/citylens/citylens/pkg/auth/apikey"
	"github.com/citylens/citylens/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Runs        services.RunService
	Presenter   *services.Presenter
	Registry    *registry.DemoRegistry
	Logger      *slog.Logger
	Validator   auth.Validator
	RateLimiter ratelimit.Limiter
	Redis       *redis.Client
	Store       providers.ObjectStore
	Repo        repository.RunRepository

	// TracingShutdown flushes the trace exporter; callers invoke it on exit.
	TracingShutdown func(context.Context) error

	dispatcherOverride dispatch.Dispatcher
}

// ApplicationOption overrides a default dependency, mainly for tests.
type ApplicationOption func(*Application) error

func WithValidator(v auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = v
		return nil
	}
}

func WithObjectStore(s providers.ObjectStore) ApplicationOption {
	return func(app *Application) error {
		app.Store = s
		return nil
	}
}

func WithDispatcher(d dispatch.Dispatcher) ApplicationOption {
	return func(app *Application) error {
		app.dispatcherOverride = d
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	redisClient := providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	limiter := ratelimit.NewTokenBucketLimiter()

	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "citylens", "env", cfg.Env)
	slog.SetDefault(logger)

	metrics.RegisterRedisCollector(redisClient, logger)

	tracingShutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  "citylens",
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}

	app := &Application{
		Config:          cfg,
		Logger:          logger,
		Redis:           redisClient,
		RateLimiter:     limiter,
		TracingShutdown: tracingShutdown,
	}

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Validator == nil {
		if cfg.AuthProvider != "" {
			validator, err := auth.NewValidator(auth.ProviderConfig{
				Type:   cfg.AuthProvider,
				Config: json.RawMessage(cfg.AuthConfig),
			})
			if err != nil {
				return nil, err
			}
			app.Validator = validator
		} else {
			app.Validator = apikey.NewValidator(cfg.APIKeys)
		}
	}
	if app.Store == nil {
		if cfg.ObjectStore.Endpoint != "" {
			store, err := providers.NewMinioStore(cfg.ObjectStore)
			if err != nil {
				return nil, err
			}
			app.Store = store
		} else {
			app.Store = providers.NewLocalStore(cfg.WorkRoot, cfg.ObjectStore.Bucket)
		}
	}
	dispatcher := app.dispatcherOverride
	if dispatcher == nil {
		dispatcher = dispatch.NewCloudRunJobsDispatcher(cfg.Dispatch)
	}

	app.Repo = repository.NewRunRepository(redisClient, time.Now)
	quota := services.NewQuotaService(app.Repo)
	app.Runs = services.NewRunService(app.Repo, quota, dispatcher, logger, time.Now)
	app.Presenter = services.NewPresenter(
		app.Store,
		cfg.ObjectStore.Bucket,
		cfg.SignURLs,
		time.Duration(cfg.SignURLTTLSeconds)*time.Second,
		logger,
	)
	app.Registry = registry.NewDemoRegistry(cfg.DemoAllowlistPath)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware("citylens"),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine

	return app, nil
}
