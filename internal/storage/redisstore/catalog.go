package redisstore

import (
	"context"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

// Catalog подставляет в уроки актуальные остатки из Redis.
// Каталог (тема, цена, иконка) читается из основного хранилища.
type Catalog struct {
	base     domain.LessonRepository
	capacity *CapacityStore
}

// NewCatalog оборачивает каталог уроков.
func NewCatalog(base domain.LessonRepository, capacity *CapacityStore) *Catalog {
	return &Catalog{base: base, capacity: capacity}
}

func (c *Catalog) Create(ctx context.Context, lesson domain.Lesson) error {
	if err := c.base.Create(ctx, lesson); err != nil {
		return err
	}
	return c.capacity.Seed(ctx, lesson.ID, lesson.RemainingSpace)
}

func (c *Catalog) Get(ctx context.Context, id string) (domain.Lesson, error) {
	lesson, err := c.base.Get(ctx, id)
	if err != nil {
		return domain.Lesson{}, err
	}
	lessons, err := c.overlay(ctx, []domain.Lesson{lesson})
	if err != nil {
		return domain.Lesson{}, err
	}
	return lessons[0], nil
}

func (c *Catalog) List(ctx context.Context) ([]domain.Lesson, error) {
	lessons, err := c.base.List(ctx)
	if err != nil {
		return nil, err
	}
	return c.overlay(ctx, lessons)
}

// Search фильтрует по актуальным остаткам, поэтому поиск выполняется после подстановки.
func (c *Catalog) Search(ctx context.Context, query string) ([]domain.Lesson, error) {
	lessons, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.Lesson, 0, len(lessons))
	for i := range lessons {
		if lessons[i].MatchesQuery(query) {
			result = append(result, lessons[i])
		}
	}
	return result, nil
}

func (c *Catalog) overlay(ctx context.Context, lessons []domain.Lesson) ([]domain.Lesson, error) {
	if len(lessons) == 0 {
		return lessons, nil
	}
	ids := make([]string, len(lessons))
	for i := range lessons {
		ids[i] = lessons[i].ID
	}
	remaining, err := c.capacity.Remaining(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range lessons {
		if v, ok := remaining[lessons[i].ID]; ok {
			lessons[i].RemainingSpace = v
		}
	}
	return lessons, nil
}

var _ domain.LessonRepository = (*Catalog)(nil)
