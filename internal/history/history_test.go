package history

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestService(t *testing.T) (*Service, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "history-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpFile.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return NewService(repo, cache.NewLRUCache(64)), repo
}

func TestWindow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	t.Run("RequiresUser", func(t *testing.T) {
		if _, err := svc.Window(ctx, 0, now.Add(-time.Hour)); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("EmptyHistory", func(t *testing.T) {
		recs, err := svc.Window(ctx, 42, now.Add(-72*time.Hour))
		if err != nil {
			t.Fatalf("Window failed: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("expected empty window, got %d records", len(recs))
		}
	})

	t.Run("CutoffAndOrdering", func(t *testing.T) {
		for _, age := range []time.Duration{90 * time.Hour, 30 * time.Hour, 2 * time.Hour} {
			_, err := svc.Record(ctx, &domain.ApplicationRecord{
				UserID:    7,
				Amount:    5000,
				Timestamp: now.Add(-age),
			})
			if err != nil {
				t.Fatalf("Record failed: %v", err)
			}
		}

		recs, err := svc.Window(ctx, 7, now.Add(-72*time.Hour))
		if err != nil {
			t.Fatalf("Window failed: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 records inside window, got %d", len(recs))
		}
		if !recs[0].Timestamp.After(recs[1].Timestamp) {
			t.Error("expected most recent record first")
		}
	})

	t.Run("OtherSubjectExcluded", func(t *testing.T) {
		recs, err := svc.Window(ctx, 8, now.Add(-72*time.Hour))
		if err != nil {
			t.Fatalf("Window failed: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("expected no records for other subject, got %d", len(recs))
		}
	})
}

func TestRecord(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	rec := &domain.ApplicationRecord{
		UserID:    11,
		Amount:    12000,
		Phone:     "+251911000000",
		Name:      "Abebe Kebede",
		Timestamp: now,
	}

	id, err := svc.Record(ctx, rec)
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if id == 0 {
		t.Error("expected assigned record id")
	}
	if rec.ID != id {
		t.Errorf("expected record id set on struct, got %d", rec.ID)
	}

	if n := svc.SameDayCount(ctx, 11, now); n != 1 {
		t.Errorf("expected same-day count 1, got %d", n)
	}

	if _, err := svc.Record(ctx, &domain.ApplicationRecord{UserID: 11, Amount: 100, Timestamp: now}); err != nil {
		t.Fatalf("second Record failed: %v", err)
	}
	if n := svc.SameDayCount(ctx, 11, now); n != 2 {
		t.Errorf("expected same-day count 2, got %d", n)
	}
}

func TestSameDayCount(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("NilCacheReadsZero", func(t *testing.T) {
		_, repo := newTestService(t)
		svc := NewService(repo, nil)

		if _, err := svc.Record(ctx, &domain.ApplicationRecord{UserID: 3, Amount: 100, Timestamp: now}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if n := svc.SameDayCount(ctx, 3, now); n != 0 {
			t.Errorf("expected 0 without cache, got %d", n)
		}
	})

	t.Run("UnknownSubjectReadsZero", func(t *testing.T) {
		svc, _ := newTestService(t)
		if n := svc.SameDayCount(ctx, 999, now); n != 0 {
			t.Errorf("expected 0 for unknown subject, got %d", n)
		}
	})

	t.Run("CounterIsPerDay", func(t *testing.T) {
		svc, _ := newTestService(t)
		if _, err := svc.Record(ctx, &domain.ApplicationRecord{UserID: 5, Amount: 100, Timestamp: now}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		yesterday := now.Add(-24 * time.Hour)
		if n := svc.SameDayCount(ctx, 5, yesterday); n != 0 {
			t.Errorf("expected 0 for previous day, got %d", n)
		}
	})
}
