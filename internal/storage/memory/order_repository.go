package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

// orderRepositoryInMemory — простая in-memory реализация OrderRepository.
type orderRepositoryInMemory struct {
	mu       sync.RWMutex
	items    map[string]domain.Order
	byNumber map[string]string
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:    make(map[string]domain.Order),
		byNumber: make(map[string]string),
	}
}

// Insert сохраняет новый заказ; пустой ID генерируется.
func (r *orderRepositoryInMemory) Insert(_ context.Context, order domain.Order) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if _, exists := r.items[order.ID]; exists {
		return "", domain.ErrOrderAlreadyExists
	}
	if _, exists := r.byNumber[order.Number]; exists {
		return "", domain.ErrOrderAlreadyExists
	}
	// Сохраняем копию, чтобы избежать непредсказуемых мутаций извне.
	r.items[order.ID] = order.Clone()
	r.byNumber[order.Number] = order.ID
	return order.ID, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// Search возвращает подходящие заказы, новые первыми.
func (r *orderRepositoryInMemory) Search(_ context.Context, query string) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		if order.MatchesQuery(query) {
			result = append(result, order.Clone())
		}
	}
	sortOrders(result, true)
	return result, nil
}

// ListAll возвращает все заказы по дате создания.
func (r *orderRepositoryInMemory) ListAll(_ context.Context, newestFirst bool) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0, len(r.items))
	for _, order := range r.items {
		result = append(result, order.Clone())
	}
	sortOrders(result, newestFirst)
	return result, nil
}

// MarkDone переводит заказ в статус done.
func (r *orderRepositoryInMemory) MarkDone(_ context.Context, id string, at time.Time) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if order.Status == domain.OrderStatusDone {
		return domain.Order{}, domain.ErrOrderAlreadyDone
	}
	order.Status = domain.OrderStatusDone
	order.CompletedAt = at.UTC()
	r.items[id] = order
	return order.Clone(), nil
}

func sortOrders(orders []domain.Order, newestFirst bool) {
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if newestFirst {
			return a.Number > b.Number
		}
		return a.Number < b.Number
	})
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
