package callstats

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/callguard-ai/callguard/internal/cache"
	"github.com/callguard-ai/callguard/internal/domain"
	"github.com/callguard-ai/callguard/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "callguard-stats-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestCallCount(t *testing.T) {
	ctx := context.Background()

	t.Run("CacheCounterPreferred", func(t *testing.T) {
		svc := NewService(nil, cache.NewLRUCache(100))

		count, err := svc.CallCount(ctx, "tenant-001", "+14155550001", 3600)
		if err != nil {
			t.Fatalf("CallCount failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected count 1, got %d", count)
		}

		count, err = svc.CallCount(ctx, "tenant-001", "+14155550001", 3600)
		if err != nil {
			t.Fatalf("CallCount failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected count 2, got %d", count)
		}
	})

	t.Run("RepositoryFallback", func(t *testing.T) {
		repo := newTestRepo(t)
		svc := NewService(repo, nil)

		now := time.Now().UTC()
		for _, id := range []string{"call-1", "call-2"} {
			err := repo.SaveCall(ctx, "tenant-001", &domain.CallRecord{
				ID:           id,
				CallerNumber: "+14155550001",
				Modality:     domain.ModalityText,
				Transcript:   "hello",
				Language:     "en",
				Timestamp:    now,
				CreatedAt:    now,
			})
			if err != nil {
				t.Fatalf("SaveCall failed: %v", err)
			}
		}

		count, err := svc.CallCount(ctx, "tenant-001", "+14155550001", 3600)
		if err != nil {
			t.Fatalf("CallCount failed: %v", err)
		}
		if count != 2 {
			t.Errorf("expected count 2, got %d", count)
		}

		count, err = svc.CallCount(ctx, "tenant-001", "+19998887777", 3600)
		if err != nil {
			t.Fatalf("CallCount failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for unknown caller, got %d", count)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		svc := NewService(nil, cache.NewLRUCache(10))

		_, err := svc.CallCount(ctx, "", "+14155550001", 3600)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("EmptyCallerIsZero", func(t *testing.T) {
		svc := NewService(nil, cache.NewLRUCache(10))

		count, err := svc.CallCount(ctx, "tenant-001", "", 3600)
		if err != nil {
			t.Fatalf("CallCount failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected count 0 for empty caller, got %d", count)
		}
	})

	t.Run("NoDataSource", func(t *testing.T) {
		svc := NewService(nil, nil)

		_, err := svc.CallCount(ctx, "tenant-001", "+14155550001", 3600)
		if err == nil {
			t.Error("expected error with no data source")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		c := cache.NewLRUCache(100)
		svc := NewService(nil, c)

		svc.CallCount(ctx, "tenant-a", "+14155550001", 3600)
		svc.CallCount(ctx, "tenant-a", "+14155550001", 3600)

		count, err := svc.CallCount(ctx, "tenant-b", "+14155550001", 3600)
		if err != nil {
			t.Fatalf("CallCount failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected independent counter per tenant, got %d", count)
		}
	})
}
