// Package history serves the subject's recent-application window consumed by
// the reapply rules.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service fetches and records subject application history. The same-day
// counter in the cache is a best-effort fast path; the repository is the
// source of truth.
//
// Two checks for the same subject racing each other can both read a window
// that does not yet include the other's in-flight record. Checks are not
// serialized per subject; the reapply rules are best-effort detection by
// design and the tests document the race.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new history service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Window returns the subject's applications since the cutoff, most recent
// first.
func (s *Service) Window(ctx context.Context, userID int64, since time.Time) ([]domain.ApplicationRecord, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: userID is required", domain.ErrValidation)
	}
	recs, err := s.repo.RecentApplications(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: recent applications: %v", domain.ErrPersistenceFailure, err)
	}
	return recs, nil
}

// Record persists one application and bumps the subject's same-day counter.
// A counter failure is ignored; the repository row is what the rules fall
// back on.
func (s *Service) Record(ctx context.Context, rec *domain.ApplicationRecord) (int64, error) {
	id, err := s.repo.SaveApplication(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("%w: save application: %v", domain.ErrPersistenceFailure, err)
	}
	rec.ID = id

	if s.cache != nil {
		key := counterKey(rec.UserID, rec.Timestamp)
		_, _ = s.cache.IncrementCounter(ctx, key, endOfDay(rec.Timestamp).Sub(rec.Timestamp))
	}
	return id, nil
}

// SameDayCount returns the cached submission count for the subject's calendar
// day, 0 when the cache has no entry.
func (s *Service) SameDayCount(ctx context.Context, userID int64, at time.Time) int64 {
	if s.cache == nil {
		return 0
	}
	n, err := s.cache.CounterValue(ctx, counterKey(userID, at))
	if err != nil {
		return 0
	}
	return n
}

func counterKey(userID int64, at time.Time) string {
	return fmt.Sprintf("reapply:%d:%s", userID, at.Format("20060102"))
}

func endOfDay(at time.Time) time.Time {
	y, m, d := at.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, at.Location()).Add(24 * time.Hour)
}
