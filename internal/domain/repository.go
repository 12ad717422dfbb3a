package domain

import (
	"context"
	"time"
)

// OrderRepository — append-only хранилище оформленных заказов.
type OrderRepository interface {
	// Insert сохраняет новый заказ и возвращает его ID.
	Insert(ctx context.Context, order Order) (string, error)
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// Search ищет подстроку без учёта регистра в номере, имени, телефоне и примечании.
	Search(ctx context.Context, query string) ([]Order, error)
	// ListAll возвращает все заказы, отсортированные по дате создания.
	ListAll(ctx context.Context, newestFirst bool) ([]Order, error)
	// MarkDone переводит pending-заказ в done. Повторный вызов — ErrOrderAlreadyDone.
	MarkDone(ctx context.Context, id string, at time.Time) (Order, error)
}

// LessonRepository — каталог уроков для публичного просмотра и поиска.
type LessonRepository interface {
	Create(ctx context.Context, lesson Lesson) error
	Get(ctx context.Context, id string) (Lesson, error)
	List(ctx context.Context) ([]Lesson, error)
	Search(ctx context.Context, query string) ([]Lesson, error)
}
