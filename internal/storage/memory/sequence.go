package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

type sequenceInMemory struct {
	mu          sync.Mutex
	initialized bool
	value       int64
}

// NewSequence создаёт in-memory счётчик номеров заказов.
func NewSequence() domain.SequenceGenerator {
	return &sequenceInMemory{}
}

func (s *sequenceInMemory) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	return nil
}

func (s *sequenceInMemory) Next(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return 0, domain.ErrSequenceNotInitialized
	}
	s.value++
	return s.value, nil
}

var _ domain.SequenceGenerator = (*sequenceInMemory)(nil)
