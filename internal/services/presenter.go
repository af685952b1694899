package services

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/citylens/citylens/internal/providers"
	"github.com/citylens/citylens/pkg/domain"
)

// Presenter renders a run document plus its artifacts into the client-facing
// view. Two artifact sources exist: the compact inline map on the run
// document (written once by the worker as its commit point) and the durable
// per-artifact records (authoritative, but may reflect partial writes if the
// worker crashed mid-upload). The inline map wins whenever it is non-empty;
// the records are only a fallback.
type Presenter struct {
	store    providers.ObjectStore
	bucket   string
	signURLs bool
	signTTL  time.Duration
	logger   *slog.Logger
}

func NewPresenter(store providers.ObjectStore, bucket string, signURLs bool, signTTL time.Duration, logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presenter{store: store, bucket: bucket, signURLs: signURLs, signTTL: signTTL, logger: logger}
}

func (p *Presenter) Present(ctx context.Context, run *domain.Run, artifacts []domain.Artifact) domain.RunView {
	view := domain.RunView{
		RunID:       run.RunID,
		UserID:      run.UserID,
		Status:      run.Status,
		Stage:       run.Stage,
		Progress:    run.Progress,
		Request:     run.Request,
		Error:       run.Error,
		ExecutionID: run.ExecutionID,
		CreatedAt:   run.CreatedAt,
		UpdatedAt:   run.UpdatedAt,
		Artifacts:   []domain.ArtifactView{},
	}

	if len(run.Artifacts) > 0 {
		names := make([]string, 0, len(run.Artifacts))
		for name := range run.Artifacts {
			if name != "" && run.Artifacts[name] != "" {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		for _, name := range names {
			uri := run.Artifacts[name]
			objectKey := providers.ObjectKeyFromURI(uri, p.bucket)
			view.Artifacts = append(view.Artifacts, domain.ArtifactView{
				Name:      name,
				Type:      domain.InferArtifactType(name),
				URI:       uri,
				ObjectKey: objectKey,
				CreatedAt: run.UpdatedAt,
				SignedURL: p.signedURL(ctx, objectKey),
			})
		}
		return view
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Name < artifacts[j].Name })
	for _, a := range artifacts {
		view.Artifacts = append(view.Artifacts, domain.ArtifactView{
			Name:      a.Name,
			Type:      domain.InferArtifactType(a.Name),
			URI:       a.URI,
			ObjectKey: a.ObjectKey,
			SHA256:    a.SHA256,
			SizeBytes: a.SizeBytes,
			CreatedAt: a.CreatedAt,
			SignedURL: p.signedURL(ctx, a.ObjectKey),
		})
	}
	return view
}

// signedURL returns nil rather than an error: a broken signer degrades the
// response instead of failing it, since the URL is a display convenience.
func (p *Presenter) signedURL(ctx context.Context, objectKey string) *string {
	if !p.signURLs || objectKey == "" || p.store == nil {
		return nil
	}
	u, err := p.store.SignURL(ctx, objectKey, p.signTTL)
	if err != nil {
		p.logger.Warn("sign artifact url", "object_key", objectKey, "err", err)
		return nil
	}
	return &u
}
