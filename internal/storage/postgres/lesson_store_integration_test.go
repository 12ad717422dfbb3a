package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

const integrationLessonID = "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0001"

func TestLessonStore_PostgresReserveRelease(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedLessonForIntegrationTest(t, store, integrationLessonID, 3)
	lessons := NewLessonStore(store)
	ctx := context.Background()

	if err := lessons.TryReserve(ctx, integrationLessonID, 2); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := lessons.TryReserve(ctx, integrationLessonID, 2); !errors.Is(err, domain.ErrInsufficientCapacity) {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}
	if err := lessons.TryReserve(ctx, "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a9999", 1); !errors.Is(err, domain.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}
	if err := lessons.TryReserve(ctx, "not-a-uuid", 1); !errors.Is(err, domain.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound for malformed id, got %v", err)
	}

	if err := lessons.Release(ctx, integrationLessonID, 2); err != nil {
		t.Fatalf("release: %v", err)
	}
	lesson, err := lessons.Get(ctx, integrationLessonID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if lesson.RemainingSpace != 3 || lesson.TotalSpace != 3 {
		t.Fatalf("unexpected lesson state %+v", lesson)
	}
}

func TestLessonStore_PostgresConcurrentReserve(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedLessonForIntegrationTest(t, store, integrationLessonID, 5)
	lessons := NewLessonStore(store)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		success atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lessons.TryReserve(ctx, integrationLessonID, 1) == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	if success.Load() != 5 {
		t.Fatalf("expected 5 successful reservations, got %d", success.Load())
	}
	lesson, err := lessons.Get(ctx, integrationLessonID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if lesson.RemainingSpace != 0 {
		t.Fatalf("expected remaining 0, got %d", lesson.RemainingSpace)
	}
}

func TestLessonStore_PostgresSearch(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedLessonForIntegrationTest(t, store, integrationLessonID, 5)
	lessons := NewLessonStore(store)
	ctx := context.Background()

	found, err := lessons.Search(ctx, "LOND")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 lesson, got %d", len(found))
	}

	byPrice, err := lessons.Search(ctx, "10000")
	if err != nil {
		t.Fatalf("search by price: %v", err)
	}
	if len(byPrice) != 1 {
		t.Fatalf("expected 1 lesson by price, got %d", len(byPrice))
	}

	none, err := lessons.Search(ctx, "100%")
	if err != nil {
		t.Fatalf("search with wildcard: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected wildcard to be literal, got %d", len(none))
	}
}
