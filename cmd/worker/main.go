package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/citylens/citylens/internal/pipeline"
	"github.com/citylens/citylens/internal/providers"
	"github.com/citylens/citylens/internal/repository"
	"github.com/citylens/citylens/internal/tracing"
	"github.com/citylens/citylens/internal/worker"
	"github.com/citylens/citylens/pkg/config"
)

// The worker processes exactly one run per invocation; the platform injects
// the run id into the container environment at dispatch time.
const runIDEnv = "CITYLENS_RUN_ID"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR]", err)
		os.Exit(1)
	}
}

func run() error {
	runID := strings.TrimSpace(os.Getenv(runIDEnv))
	if runID == "" {
		return fmt.Errorf("%s is not set", runIDEnv)
	}

	cfg, err := config.LoadConfigOptional(os.Getenv("CITYLENS_CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "citylens-worker", "run_id", runID)
	slog.SetDefault(logger)

	ctx := context.Background()
	tracingShutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  "citylens-worker",
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracingShutdown(shutdownCtx)
	}()

	rdb := providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	repo := repository.NewRunRepository(rdb, time.Now)

	var store providers.ObjectStore
	if cfg.ObjectStore.Endpoint != "" {
		store, err = providers.NewMinioStore(cfg.ObjectStore)
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
	} else {
		store = providers.NewLocalStore(cfg.WorkRoot, cfg.ObjectStore.Bucket)
	}

	pipe := pipeline.NewExecPipeline(cfg.PipelineCommand, logger)
	runner := worker.NewRunner(repo, store, pipe, cfg.WorkRoot, logger)

	return runner.Execute(ctx, runID)
}
