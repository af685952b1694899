package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/citylens/citylens/pkg/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a run or user document does not exist.
var ErrNotFound = errors.New("not found")

type RunRepository interface {
	CreateRun(ctx context.Context, userID string, req domain.Request) (*domain.Run, error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRun(ctx context.Context, runID string, patch domain.RunPatch) error
	SetExecutionID(ctx context.Context, runID string, executionID string) error
	MarkFailed(ctx context.Context, runID string, reason string) error

	GetOrCreateUser(ctx context.Context, userID string) (*domain.User, error)
	CountRunsSince(ctx context.Context, userID string, since time.Time) (int64, error)
	CountActiveRuns(ctx context.Context, userID string) (int64, error)

	WriteArtifact(ctx context.Context, runID string, artifact domain.Artifact) error
	ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error)
}

type runRedisRepo struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRunRepository(rdb *redis.Client, now func() time.Time) RunRepository {
	if now == nil {
		now = time.Now
	}
	return &runRedisRepo{rdb: rdb, now: now}
}

// ===== Redis keys =====
// Runs and users live as JSON documents in a single HASH each; per-user
// indexes keep quota counts O(1) instead of scanning documents.
func (r *runRedisRepo) keyRuns() string  { return "citylens:runs" }
func (r *runRedisRepo) keyUsers() string { return "citylens:users" }
func (r *runRedisRepo) keyArtifacts(runID string) string {
	return fmt.Sprintf("citylens:runs:%s:artifacts", runID)
}
func (r *runRedisRepo) keyUserCreated(userID string) string {
	return fmt.Sprintf("citylens:user:%s:created", userID)
}
func (r *runRedisRepo) keyUserActive(userID string) string {
	return fmt.Sprintf("citylens:user:%s:active", userID)
}

func (r *runRedisRepo) CreateRun(ctx context.Context, userID string, req domain.Request) (*domain.Run, error) {
	now := r.now().UTC()
	run := &domain.Run{
		RunID:     uuid.NewString(),
		UserID:    userID,
		Status:    domain.StatusQueued,
		Stage:     "queued",
		Progress:  0,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.writeRun(ctx, run); err != nil {
		return nil, err
	}
	if err := r.rdb.ZAdd(ctx, r.keyUserCreated(userID), &redis.Z{
		Score:  float64(now.Unix()),
		Member: run.RunID,
	}).Err(); err != nil {
		return nil, err
	}
	if err := r.rdb.SAdd(ctx, r.keyUserActive(userID), run.RunID).Err(); err != nil {
		return nil, err
	}
	return run, nil
}

func (r *runRedisRepo) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	raw, err := r.rdb.HGet(ctx, r.keyRuns(), runID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var run domain.Run
	if err := json.Unmarshal([]byte(raw), &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &run, nil
}

// UpdateRun merges the patch into the stored document and rewrites
// updated_at. The read-merge-write is not atomic across writers; after
// dispatch the worker is the only writer for a run, so last-write-wins per
// patch is sufficient.
func (r *runRedisRepo) UpdateRun(ctx context.Context, runID string, patch domain.RunPatch) error {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.Stage != nil {
		run.Stage = *patch.Stage
	}
	if patch.Progress != nil {
		run.Progress = *patch.Progress
	}
	if patch.Error != nil {
		run.Error = patch.Error
	}
	if patch.ExecutionID != nil {
		run.ExecutionID = patch.ExecutionID
	}
	if patch.Artifacts != nil {
		run.Artifacts = patch.Artifacts
	}
	run.UpdatedAt = r.now().UTC()

	if err := r.writeRun(ctx, run); err != nil {
		return err
	}
	if run.Status.Terminal() {
		if err := r.rdb.SRem(ctx, r.keyUserActive(run.UserID), runID).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (r *runRedisRepo) SetExecutionID(ctx context.Context, runID string, executionID string) error {
	return r.UpdateRun(ctx, runID, domain.RunPatch{ExecutionID: &executionID})
}

func (r *runRedisRepo) MarkFailed(ctx context.Context, runID string, reason string) error {
	return r.UpdateRun(ctx, runID, domain.RunPatch{
		Status:   domain.StatusPtr(domain.StatusFailed),
		Stage:    domain.StringPtr("failed"),
		Progress: domain.IntPtr(100),
		Error:    &reason,
	})
}

func (r *runRedisRepo) GetOrCreateUser(ctx context.Context, userID string) (*domain.User, error) {
	raw, err := r.rdb.HGet(ctx, r.keyUsers(), userID).Result()
	if err == nil {
		var user domain.User
		if err := json.Unmarshal([]byte(raw), &user); err != nil {
			return nil, fmt.Errorf("decode user %s: %w", userID, err)
		}
		return &user, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, err
	}

	user := &domain.User{
		UserID:            userID,
		QuotaPerDay:       domain.DefaultQuotaPerDay,
		MaxConcurrentRuns: domain.DefaultMaxConcurrentRuns,
		CreatedAt:         r.now().UTC(),
	}
	data, err := json.Marshal(user)
	if err != nil {
		return nil, err
	}
	if err := r.rdb.HSet(ctx, r.keyUsers(), userID, data).Err(); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *runRedisRepo) CountRunsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	min := fmt.Sprintf("%d", since.Unix())
	return r.rdb.ZCount(ctx, r.keyUserCreated(userID), min, "+inf").Result()
}

func (r *runRedisRepo) CountActiveRuns(ctx context.Context, userID string) (int64, error) {
	return r.rdb.SCard(ctx, r.keyUserActive(userID)).Result()
}

func (r *runRedisRepo) WriteArtifact(ctx context.Context, runID string, artifact domain.Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return err
	}
	return r.rdb.HSet(ctx, r.keyArtifacts(runID), artifact.Name, data).Err()
}

func (r *runRedisRepo) ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	raw, err := r.rdb.HGetAll(ctx, r.keyArtifacts(runID)).Result()
	if err != nil {
		return nil, err
	}
	artifacts := make([]domain.Artifact, 0, len(raw))
	for name, val := range raw {
		var a domain.Artifact
		if err := json.Unmarshal([]byte(val), &a); err != nil {
			return nil, fmt.Errorf("decode artifact %s/%s: %w", runID, name, err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

func (r *runRedisRepo) writeRun(ctx context.Context, run *domain.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return r.rdb.HSet(ctx, r.keyRuns(), run.RunID, data).Err()
}
