package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

const lessonColumns = `id, topic, location, price_minor, remaining_space, total_space, icon, created_at`

// LessonStore — каталог уроков и счётчики свободных мест в PostgreSQL.
type LessonStore struct {
	db *sql.DB
}

// NewLessonStore создаёт PostgreSQL-реализацию LessonRepository и CapacityStore.
func NewLessonStore(store *Store) *LessonStore {
	return &LessonStore{db: store.DB()}
}

func (s *LessonStore) Create(ctx context.Context, lesson domain.Lesson) error {
	if errs := lesson.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	if lesson.CreatedAt.IsZero() {
		lesson.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lessons (id, topic, location, price_minor, remaining_space, total_space, icon, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		lesson.ID, lesson.Topic, lesson.Location, lesson.PriceMinor,
		lesson.RemainingSpace, lesson.TotalSpace, lesson.Icon, lesson.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: lesson %s already exists", domain.ErrInvalidLesson, lesson.ID)
		}
		return fmt.Errorf("insert lesson: %w", err)
	}
	return nil
}

func (s *LessonStore) Get(ctx context.Context, id string) (domain.Lesson, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	lesson, err := scanLesson(s.db.QueryRowContext(ctx, `SELECT `+lessonColumns+` FROM lessons WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return domain.Lesson{}, domain.ErrLessonNotFound
		}
		return domain.Lesson{}, fmt.Errorf("select lesson: %w", err)
	}
	return lesson, nil
}

func (s *LessonStore) List(ctx context.Context) ([]domain.Lesson, error) {
	return s.Search(ctx, "")
}

// Search ищет подстроку в теме, месте, цене и количестве свободных мест.
func (s *LessonStore) Search(ctx context.Context, query string) ([]domain.Lesson, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons
		WHERE LOWER(topic) LIKE $1
		   OR LOWER(location) LIKE $1
		   OR price_minor::text LIKE $1
		   OR remaining_space::text LIKE $1
		ORDER BY topic ASC, id ASC
	`, pattern)
	if err != nil {
		return nil, fmt.Errorf("search lessons: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Lesson, 0)
	for rows.Next() {
		lesson, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		result = append(result, lesson)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lessons: %w", err)
	}
	return result, nil
}

// TryReserve выполняет условное списание одним UPDATE. Если строка не обновилась,
// отдельный запрос различает отсутствие урока и нехватку мест.
func (s *LessonStore) TryReserve(ctx context.Context, lessonID string, qty int) error {
	if qty <= 0 {
		return domain.ErrInsufficientCapacity
	}

	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE lessons
		SET remaining_space = remaining_space - $2
		WHERE id = $1
		  AND remaining_space >= $2
	`, lessonID, qty)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrLessonNotFound
		}
		return fmt.Errorf("reserve lesson space: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	exists, err := s.exists(ctx, lessonID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrLessonNotFound
	}
	return domain.ErrInsufficientCapacity
}

// Release безусловно возвращает места уроку.
func (s *LessonStore) Release(ctx context.Context, lessonID string, qty int) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE lessons
		SET remaining_space = remaining_space + $2
		WHERE id = $1
	`, lessonID, qty)
	if err != nil {
		return fmt.Errorf("release lesson space: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrLessonNotFound
	}
	return nil
}

func (s *LessonStore) exists(ctx context.Context, lessonID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM lessons WHERE id = $1`, lessonID).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check lesson exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLesson(row rowScanner) (domain.Lesson, error) {
	var lesson domain.Lesson
	err := row.Scan(
		&lesson.ID, &lesson.Topic, &lesson.Location, &lesson.PriceMinor,
		&lesson.RemainingSpace, &lesson.TotalSpace, &lesson.Icon, &lesson.CreatedAt,
	)
	return lesson, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var (
	_ domain.LessonRepository = (*LessonStore)(nil)
	_ domain.CapacityStore    = (*LessonStore)(nil)
)
