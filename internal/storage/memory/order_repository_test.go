package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
	"github.com/vladislavdragonenkov/lessons/internal/storage/memory"
)

func newOrder(number, name string, createdAt time.Time) domain.Order {
	return domain.Order{
		Number:    number,
		Name:      name,
		Phone:     "07123456789",
		Items:     []domain.LineItem{{LessonID: "a9a4f2f5-5d8b-4a55-8c62-1b4d5a6f7e80", Qty: 1}},
		Status:    domain.OrderStatusPending,
		CreatedAt: createdAt,
	}
}

func TestOrderRepository_InsertGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	id, err := repo.Insert(ctx, newOrder("ORD-2026-0001", "Jane Doe", time.Now().UTC()))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	stored, err := repo.Get(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Number != "ORD-2026-0001" {
		t.Fatalf("unexpected number %s", stored.Number)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_DuplicateNumber(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	if _, err := repo.Insert(ctx, newOrder("ORD-2026-0001", "Jane Doe", time.Now())); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if _, err := repo.Insert(ctx, newOrder("ORD-2026-0001", "John Doe", time.Now())); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}
}

func TestOrderRepository_SearchAndList(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)

	for i, name := range []string{"Jane Doe", "John Smith", "Anna Doe"} {
		number := domain.FormatOrderNumber(2026, int64(i+1))
		if _, err := repo.Insert(ctx, newOrder(number, name, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	found, err := repo.Search(ctx, "doe")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(found))
	}

	all, err := repo.ListAll(ctx, true)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 || all[0].Name != "Anna Doe" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	oldest, err := repo.ListAll(ctx, false)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if oldest[0].Name != "Jane Doe" {
		t.Fatalf("expected oldest first, got %s", oldest[0].Name)
	}
}

func TestOrderRepository_MarkDoneOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	id, err := repo.Insert(ctx, newOrder("ORD-2026-0001", "Jane Doe", time.Now()))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	done, err := repo.MarkDone(ctx, id, time.Now())
	if err != nil {
		t.Fatalf("mark done failed: %v", err)
	}
	if done.Status != domain.OrderStatusDone || done.CompletedAt.IsZero() {
		t.Fatalf("unexpected order state %+v", done)
	}

	if _, err := repo.MarkDone(ctx, id, time.Now()); !errors.Is(err, domain.ErrOrderAlreadyDone) {
		t.Fatalf("expected ErrOrderAlreadyDone, got %v", err)
	}
	if _, err := repo.MarkDone(ctx, "missing", time.Now()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}
