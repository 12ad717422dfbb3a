package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

// TimelineRepository хранит историю заказов в памяти, события каждого заказа упорядочены по времени.
type TimelineRepository struct {
	mu    sync.RWMutex
	byID  map[string][]domain.TimelineEvent
	nowFn func() time.Time
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{
		byID:  make(map[string][]domain.TimelineEvent),
		nowFn: time.Now,
	}
}

// Append добавляет событие; события с одинаковым временем сохраняют порядок записи.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event, err := event.Prepare(r.nowFn())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	history := r.byID[event.OrderID]
	pos := sort.Search(len(history), func(i int) bool {
		return history[i].Occurred.After(event.Occurred)
	})
	history = append(history, domain.TimelineEvent{})
	copy(history[pos+1:], history[pos:])
	history[pos] = event
	r.byID[event.OrderID] = history
	return nil
}

// List возвращает копию истории заказа.
func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	history := r.byID[orderID]
	out := make([]domain.TimelineEvent, len(history))
	copy(out, history)
	return out, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
