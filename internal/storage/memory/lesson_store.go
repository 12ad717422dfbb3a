package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

// LessonStore хранит каталог уроков и их счётчики свободных мест.
// Один мьютекс защищает и каталог, и условное списание мест.
type LessonStore struct {
	mu      sync.RWMutex
	lessons map[string]domain.Lesson
}

// NewLessonStore создаёт пустой in-memory каталог уроков.
func NewLessonStore() *LessonStore {
	return &LessonStore{lessons: make(map[string]domain.Lesson)}
}

// Create добавляет урок в каталог.
func (s *LessonStore) Create(_ context.Context, lesson domain.Lesson) error {
	if errs := lesson.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lessons[lesson.ID]; exists {
		return domain.ErrInvalidLesson
	}
	s.lessons[lesson.ID] = lesson
	return nil
}

// Get возвращает урок или ErrLessonNotFound.
func (s *LessonStore) Get(_ context.Context, id string) (domain.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lesson, ok := s.lessons[id]
	if !ok {
		return domain.Lesson{}, domain.ErrLessonNotFound
	}
	return lesson, nil
}

// List возвращает все уроки, отсортированные по теме.
func (s *LessonStore) List(ctx context.Context) ([]domain.Lesson, error) {
	return s.Search(ctx, "")
}

// Search возвращает уроки, подходящие под поисковую строку.
func (s *LessonStore) Search(_ context.Context, query string) ([]domain.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Lesson, 0, len(s.lessons))
	for _, lesson := range s.lessons {
		if lesson.MatchesQuery(query) {
			result = append(result, lesson)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Topic != result[j].Topic {
			return result[i].Topic < result[j].Topic
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// TryReserve списывает qty мест, если их достаточно.
func (s *LessonStore) TryReserve(_ context.Context, lessonID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lesson, ok := s.lessons[lessonID]
	if !ok {
		return domain.ErrLessonNotFound
	}
	if qty <= 0 || lesson.RemainingSpace < qty {
		return domain.ErrInsufficientCapacity
	}
	lesson.RemainingSpace -= qty
	s.lessons[lessonID] = lesson
	return nil
}

// Release возвращает qty мест уроку.
func (s *LessonStore) Release(_ context.Context, lessonID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lesson, ok := s.lessons[lessonID]
	if !ok {
		return domain.ErrLessonNotFound
	}
	lesson.RemainingSpace += qty
	s.lessons[lessonID] = lesson
	return nil
}

var (
	_ domain.LessonRepository = (*LessonStore)(nil)
	_ domain.CapacityStore    = (*LessonStore)(nil)
)
