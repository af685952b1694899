package services

import (
	"context"
	"time"

	"github.com/citylens/citylens/internal/repository"
	"github.com/citylens/citylens/pkg/domain"
)

type QuotaService interface {
	// Enforce admits or rejects a run creation for the user at the given
	// instant. It reads counts only and never applies an increment; the
	// check-then-act window against the actual creation is an accepted,
	// bounded race given the low per-user limits.
	Enforce(ctx context.Context, userID string, now time.Time) error
}

type quotaService struct {
	repo repository.RunRepository
}

func NewQuotaService(repo repository.RunRepository) QuotaService {
	return &quotaService{repo: repo}
}

func (s *quotaService) Enforce(ctx context.Context, userID string, now time.Time) error {
	user, err := s.repo.GetOrCreateUser(ctx, userID)
	if err != nil {
		return err
	}

	quotaPerDay := user.QuotaPerDay
	if quotaPerDay <= 0 {
		quotaPerDay = domain.DefaultQuotaPerDay
	}
	maxConcurrent := user.MaxConcurrentRuns
	if maxConcurrent <= 0 {
		maxConcurrent = domain.DefaultMaxConcurrentRuns
	}

	since := utcMidnight(now)
	createdToday, err := s.repo.CountRunsSince(ctx, userID, since)
	if err != nil {
		return err
	}
	if createdToday >= int64(quotaPerDay) {
		return ErrQuotaExceeded
	}

	active, err := s.repo.CountActiveRuns(ctx, userID)
	if err != nil {
		return err
	}
	if active >= int64(maxConcurrent) {
		return ErrConcurrencyExceeded
	}
	return nil
}

func utcMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
