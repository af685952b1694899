package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/citylens/citylens/internal/dispatch"
	"github.com/citylens/citylens/internal/metrics"
	"github.com/citylens/citylens/internal/repository"
	"github.com/citylens/citylens/pkg/domain"
)

type RunService interface {
	// Create admits, persists and dispatches a new run. On dispatch failure
	// the run is already marked failed when the error is returned.
	Create(ctx context.Context, userID string, req domain.Request) (*domain.Run, error)

	// GetOwned returns the run only when it belongs to userID; otherwise
	// repository.ErrNotFound, indistinguishable from a missing run.
	GetOwned(ctx context.Context, runID string, userID string) (*domain.Run, error)

	Get(ctx context.Context, runID string) (*domain.Run, error)
	ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error)
}

type runService struct {
	repo       repository.RunRepository
	quota      QuotaService
	dispatcher dispatch.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewRunService(repo repository.RunRepository, quota QuotaService, dispatcher dispatch.Dispatcher, logger *slog.Logger, now func() time.Time) RunService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &runService{repo: repo, quota: quota, dispatcher: dispatcher, logger: logger, now: now}
}

func (s *runService) Create(ctx context.Context, userID string, req domain.Request) (*domain.Run, error) {
	ctx, span := otel.Tracer("citylens/runs").Start(ctx, "citylens.run.create",
		trace.WithAttributes(attribute.String("citylens.user_id", userID)),
	)
	defer span.End()

	if err := s.quota.Enforce(ctx, userID, s.now()); err != nil {
		span.SetStatus(codes.Error, "admission-rejected")
		return nil, err
	}

	run, err := s.repo.CreateRun(ctx, userID, req)
	if err != nil {
		span.SetStatus(codes.Error, "store")
		return nil, err
	}
	metrics.RunCreatedTotal.Inc()
	span.SetAttributes(attribute.String("citylens.run_id", run.RunID))

	executionID, err := s.dispatcher.Dispatch(ctx, run.RunID)
	if err != nil {
		metrics.DispatchFailuresTotal.Inc()
		span.SetStatus(codes.Error, "dispatch")
		s.logger.Error("worker dispatch failed", "run_id", run.RunID, "err", err)
		if markErr := s.repo.MarkFailed(ctx, run.RunID, err.Error()); markErr != nil {
			s.logger.Error("mark run failed after dispatch error", "run_id", run.RunID, "err", markErr)
		}
		return nil, fmt.Errorf("trigger worker job: %w", err)
	}

	if executionID != "" {
		if err := s.repo.SetExecutionID(ctx, run.RunID, executionID); err != nil {
			return nil, err
		}
		run.ExecutionID = &executionID
	}

	s.logger.Info("run created", "run_id", run.RunID, "user_id", userID, "execution_id", executionID)
	return run, nil
}

func (s *runService) GetOwned(ctx context.Context, runID string, userID string) (*domain.Run, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return run, nil
}

func (s *runService) Get(ctx context.Context, runID string) (*domain.Run, error) {
	return s.repo.GetRun(ctx, runID)
}

func (s *runService) ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	return s.repo.ListArtifacts(ctx, runID)
}
