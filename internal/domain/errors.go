package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidName — имя клиента не соответствует ^[A-Za-z\s]{2,50}$ или содержит управляющие символы.
	ErrInvalidName = errors.New("name must be 2-50 letters or spaces")
	// ErrInvalidPhone — телефон не соответствует формату 0 + 10 цифр.
	ErrInvalidPhone = errors.New("phone must be 11 digits starting with 0")
	// ErrInvalidLessons — список уроков отсутствует, пуст или не является массивом.
	ErrInvalidLessons = errors.New("lessons must be a non-empty list")
	// ErrInvalidLineItem — позиция заказа с некорректным id или количеством.
	ErrInvalidLineItem = errors.New("invalid lesson entry")
	// ErrNotesTooLong — примечание длиннее 250 символов.
	ErrNotesTooLong = errors.New("notes must be at most 250 characters")
	// ErrInvalidNotes — примечание содержит NUL, управляющие символы или не является UTF-8.
	ErrInvalidNotes = errors.New("notes must not contain control characters")

	// ErrInsufficientCapacity — у урока не хватает свободных мест.
	ErrInsufficientCapacity = errors.New("insufficient lesson capacity")
	// ErrLessonNotFound возвращается, если урок не найден в хранилище.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrInvalidLesson — урок не проходит проверку полей при создании.
	ErrInvalidLesson = errors.New("invalid lesson")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyExists — заказ с таким ID или номером уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrOrderAlreadyDone — повторная попытка завершить заказ.
	ErrOrderAlreadyDone = errors.New("order already done")

	// ErrSequenceNotInitialized — счётчик номеров заказов не инициализирован.
	ErrSequenceNotInitialized = errors.New("order sequence is not initialized")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError уточняет, какое поле входного заказа не прошло проверку.
type ValidationError struct {
	Kind  error
	Field string
	// Index — номер позиции в lessons; -1, если ошибка не относится к позиции.
	Index int
}

func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s: lessons[%d].%s", e.Kind, e.Index, e.Field)
	}
	return e.Kind.Error()
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// CapacityError сообщает, какой урок не удалось зарезервировать.
type CapacityError struct {
	LessonID string
	Err      error
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("lesson %s: %v", e.LessonID, e.Err)
}

func (e *CapacityError) Unwrap() error { return e.Err }

// PersistenceError — места уже списаны, но заказ не сохранён.
// Такое состояние не лечится автоматически и требует ручной сверки.
type PersistenceError struct {
	OrderNumber string
	Items       []LineItem
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist order %s: %v", e.OrderNumber, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation проверяет, является ли ошибка ошибкой валидации входного заказа.
func IsValidation(err error) bool {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return true
	}
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidPhone) ||
		errors.Is(err, ErrInvalidLessons) ||
		errors.Is(err, ErrInvalidLineItem) ||
		errors.Is(err, ErrNotesTooLong) ||
		errors.Is(err, ErrInvalidNotes)
}

// IsCapacity проверяет, связана ли ошибка с нехваткой мест или отсутствием урока.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrInsufficientCapacity) || errors.Is(err, ErrLessonNotFound)
}
