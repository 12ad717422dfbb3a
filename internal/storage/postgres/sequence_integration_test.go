package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

func TestSequence_PostgresInitAndNext(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seq := NewSequence(store)
	ctx := context.Background()

	if _, err := seq.Next(ctx); !errors.Is(err, domain.ErrSequenceNotInitialized) {
		t.Fatalf("expected ErrSequenceNotInitialized, got %v", err)
	}

	if err := seq.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	first, err := seq.Next(ctx)
	if err != nil || first != 1 {
		t.Fatalf("expected first value 1, got %d (%v)", first, err)
	}

	if err := seq.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	second, err := seq.Next(ctx)
	if err != nil || second != 2 {
		t.Fatalf("init must not reset counter, got %d (%v)", second, err)
	}
}

func TestSequence_PostgresConcurrentUnique(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seq := NewSequence(store)
	ctx := context.Background()
	if err := seq.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	const n = 30
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, n)
		wg   sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := seq.Next(ctx)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			mu.Lock()
			seen[v] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("expected %d unique values, got %d", n, len(seen))
	}
}
