package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

func TestOrderRepository_PostgresInsertGet(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	createdAt := time.Now().UTC().Round(time.Microsecond)
	id, err := repo.Insert(ctx, sampleOrder("ORD-2026-0001", createdAt))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Number != "ORD-2026-0001" || len(got.Items) != 2 || got.Items[0].Qty != 2 {
		t.Fatalf("unexpected order %+v", got)
	}
	if !got.CreatedAt.Equal(createdAt) || !got.CompletedAt.IsZero() {
		t.Fatalf("unexpected timestamps %+v", got)
	}

	if _, err := repo.Insert(ctx, sampleOrder("ORD-2026-0001", createdAt)); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}
	if _, err := repo.Get(ctx, "not-a-uuid"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_PostgresSearchListAndDone(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour).Round(time.Microsecond)
	firstID, err := repo.Insert(ctx, sampleOrder("ORD-2026-0001", base))
	if err != nil {
		t.Fatalf("insert first: %v", err)
	}
	second := sampleOrder("ORD-2026-0002", base.Add(time.Minute))
	second.Name = "John Smith"
	second.Notes = ""
	if _, err := repo.Insert(ctx, second); err != nil {
		t.Fatalf("insert second: %v", err)
	}

	found, err := repo.Search(ctx, "WINDOW")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].ID != firstID {
		t.Fatalf("unexpected search result %+v", found)
	}

	all, err := repo.ListAll(ctx, true)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].Number != "ORD-2026-0002" || len(all[1].Items) != 2 {
		t.Fatalf("unexpected list %+v", all)
	}

	done, err := repo.MarkDone(ctx, firstID, time.Now())
	if err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if done.Status != domain.OrderStatusDone || done.CompletedAt.IsZero() {
		t.Fatalf("unexpected done order %+v", done)
	}
	if _, err := repo.MarkDone(ctx, firstID, time.Now()); !errors.Is(err, domain.ErrOrderAlreadyDone) {
		t.Fatalf("expected ErrOrderAlreadyDone, got %v", err)
	}
	if _, err := repo.MarkDone(ctx, "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a9999", time.Now()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
