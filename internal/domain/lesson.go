package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxLessonTopicLen    = 50
	maxLessonLocationLen = 50
	// LessonIconExt — единственное допустимое расширение иконки урока.
	LessonIconExt = ".png"
)

// Lesson описывает урок в каталоге.
type Lesson struct {
	ID       string
	Topic    string
	Location string
	// PriceMinor — цена в минимальных денежных единицах.
	PriceMinor int64
	// RemainingSpace уменьшается только успешным резервом и никогда не уходит в минус.
	RemainingSpace int
	// TotalSpace фиксирует вместимость на момент создания и дальше не синхронизируется.
	TotalSpace int
	Icon       string
	CreatedAt  time.Time
}

// Validate проверяет поля урока перед сохранением в каталог.
func (l *Lesson) Validate() []error {
	var errs []error

	if l.ID == "" || !IsLessonID(l.ID) {
		errs = append(errs, fmt.Errorf("%w: id must be a uuid", ErrInvalidLesson))
	}
	if strings.TrimSpace(l.Topic) == "" || utf8.RuneCountInString(l.Topic) > maxLessonTopicLen {
		errs = append(errs, fmt.Errorf("%w: topic must be 1-%d characters", ErrInvalidLesson, maxLessonTopicLen))
	}
	if strings.TrimSpace(l.Location) == "" || utf8.RuneCountInString(l.Location) > maxLessonLocationLen {
		errs = append(errs, fmt.Errorf("%w: location must be 1-%d characters", ErrInvalidLesson, maxLessonLocationLen))
	}
	if l.PriceMinor < 0 {
		errs = append(errs, fmt.Errorf("%w: price must be non-negative", ErrInvalidLesson))
	}
	if l.RemainingSpace < 0 {
		errs = append(errs, fmt.Errorf("%w: remaining space must be non-negative", ErrInvalidLesson))
	}
	if l.TotalSpace < 0 {
		errs = append(errs, fmt.Errorf("%w: total space must be non-negative", ErrInvalidLesson))
	}
	if len(l.Icon) <= len(LessonIconExt) || !strings.HasSuffix(strings.ToLower(l.Icon), LessonIconExt) {
		errs = append(errs, fmt.Errorf("%w: icon must be a %s file", ErrInvalidLesson, LessonIconExt))
	}

	return errs
}

// MatchesQuery сравнивает урок с поисковой строкой без учёта регистра.
func (l *Lesson) MatchesQuery(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	fields := []string{
		l.Topic,
		l.Location,
		fmt.Sprintf("%d", l.PriceMinor),
		fmt.Sprintf("%d", l.RemainingSpace),
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}
