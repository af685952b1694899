package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/citylens/citylens/internal/metrics"
	"github.com/citylens/citylens/internal/providers"
	"github.com/citylens/citylens/internal/repository"
	"github.com/citylens/citylens/pkg/domain"
)

// ErrContractViolation is returned when the pipeline produced a file outside
// the fixed artifact contract. Nothing is uploaded for such a run.
var ErrContractViolation = errors.New("artifact contract violation")

// summaryFileName is the structured pipeline verdict; its "ok" flag decides
// the terminal status even when the pipeline process itself exited cleanly.
const summaryFileName = "run_summary.json"

// contractArtifacts is the closed set of filenames a pipeline may emit.
var contractArtifacts = map[string]struct{}{
	"preview.png":    {},
	"change.geojson": {},
	"mesh.ply":       {},
	summaryFileName:  {},
}

// Pipeline produces artifact files for one request under workDir and reports
// progress as it goes. It returns artifact name -> local file path.
type Pipeline interface {
	Run(ctx context.Context, req domain.Request, workDir string, progress func(percent int, stage string)) (map[string]string, error)
}

// Runner executes exactly one run to a terminal status. It is the sole writer
// of the run document once Execute starts.
type Runner struct {
	repo     repository.RunRepository
	store    providers.ObjectStore
	pipeline Pipeline
	workRoot string
	logger   *slog.Logger
}

func NewRunner(repo repository.RunRepository, store providers.ObjectStore, pipeline Pipeline, workRoot string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{repo: repo, store: store, pipeline: pipeline, workRoot: workRoot, logger: logger}
}

// Execute drives a run from queued to a terminal status. A pipeline-reported
// failure (summary ok=false) is a clean outcome: the run is marked failed and
// Execute returns nil. Any other error also marks the run failed but is
// returned so the process exits non-zero and the platform records the crash.
func (r *Runner) Execute(ctx context.Context, runID string) error {
	run, err := r.repo.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}

	if err := r.execute(ctx, run); err != nil {
		r.logger.Error("run execution failed", "run_id", runID, "error", err)
		if mfErr := r.repo.MarkFailed(ctx, runID, err.Error()); mfErr != nil {
			r.logger.Error("mark run failed", "run_id", runID, "error", mfErr)
		}
		r.observeCompletion(run, domain.StatusFailed)
		return err
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, run *domain.Run) error {
	if err := r.repo.UpdateRun(ctx, run.RunID, domain.RunPatch{
		Status:   domain.StatusPtr(domain.StatusRunning),
		Stage:    domain.StringPtr("starting"),
		Progress: domain.IntPtr(1),
	}); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}

	workDir := filepath.Join(r.workRoot, run.RunID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}

	progress := func(percent int, stage string) {
		patch := domain.RunPatch{
			Status:   domain.StatusPtr(domain.StatusRunning),
			Progress: domain.IntPtr(percent),
		}
		if stage != "" {
			patch.Stage = domain.StringPtr(stage)
		}
		if err := r.repo.UpdateRun(ctx, run.RunID, patch); err != nil {
			r.logger.Warn("progress update dropped", "run_id", run.RunID, "error", err)
		}
	}

	outputs, err := r.pipeline.Run(ctx, run.Request, workDir, progress)
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	uploaded, err := r.uploadArtifacts(ctx, run.RunID, outputs)
	if err != nil {
		return err
	}

	ok, err := readSummaryVerdict(filepath.Join(workDir, summaryFileName))
	if err != nil {
		return err
	}

	status := domain.StatusSucceeded
	patch := domain.RunPatch{
		Status:    domain.StatusPtr(status),
		Stage:     domain.StringPtr("done"),
		Progress:  domain.IntPtr(100),
		Artifacts: uploaded,
	}
	if !ok {
		// The pipeline reported its own failure. The run is failed but the
		// worker exit stays clean so the platform does not retry it.
		status = domain.StatusFailed
		patch.Status = domain.StatusPtr(status)
		patch.Stage = domain.StringPtr("failed")
		patch.Error = domain.StringPtr("pipeline failed")
	}

	if err := r.repo.UpdateRun(ctx, run.RunID, patch); err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}

	r.observeCompletion(run, status)
	r.logger.Info("run finished", "run_id", run.RunID, "status", string(status), "artifacts", len(uploaded))
	return nil
}

// uploadArtifacts validates the whole output set against the contract before
// uploading anything, so a partial violation never leaves stray objects. Map
// keys are logical names chosen by the pipeline; the contract binds the
// filename of each produced file.
func (r *Runner) uploadArtifacts(ctx context.Context, runID string, outputs map[string]string) (map[string]string, error) {
	files := make(map[string]string, len(outputs))
	for _, path := range outputs {
		base := filepath.Base(path)
		if _, allowed := contractArtifacts[base]; !allowed {
			return nil, fmt.Errorf("%w: unexpected file %q", ErrContractViolation, base)
		}
		files[base] = path
	}
	names := make([]string, 0, len(files))
	for base := range files {
		names = append(names, base)
	}
	sort.Strings(names)

	uploaded := make(map[string]string, len(names))
	for _, base := range names {
		objectKey := fmt.Sprintf("runs/%s/%s", runID, base)
		info, err := r.store.Upload(ctx, files[base], objectKey, domain.InferArtifactType(base))
		if err != nil {
			return nil, fmt.Errorf("upload artifact %s: %w", base, err)
		}

		if err := r.repo.WriteArtifact(ctx, runID, domain.Artifact{
			Name:      base,
			Type:      domain.InferArtifactType(base),
			URI:       info.URI,
			ObjectKey: info.ObjectKey,
			SHA256:    info.SHA256,
			SizeBytes: info.SizeBytes,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("record artifact %s: %w", base, err)
		}

		metrics.ArtifactUploadedTotal.WithLabelValues(base).Inc()
		uploaded[base] = info.URI
	}
	return uploaded, nil
}

// readSummaryVerdict reads the pipeline's self-reported verdict. A missing
// summary counts as success; an unreadable or malformed one does not.
func readSummaryVerdict(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", summaryFileName, err)
	}
	var summary struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return false, nil
	}
	return summary.OK, nil
}

func (r *Runner) observeCompletion(run *domain.Run, status domain.RunStatus) {
	metrics.RunCompletedTotal.WithLabelValues(string(status)).Inc()
	if !run.CreatedAt.IsZero() {
		metrics.RunDurationSeconds.WithLabelValues(string(status)).Observe(time.Since(run.CreatedAt).Seconds())
	}
}
