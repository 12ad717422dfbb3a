package domain

import (
	"context"
	"time"
)

// CapacityStore владеет счётчиками свободных мест уроков.
type CapacityStore interface {
	// TryReserve атомарно уменьшает remainingSpace на qty, только если мест достаточно.
	// Возвращает ErrLessonNotFound или ErrInsufficientCapacity.
	TryReserve(ctx context.Context, lessonID string, qty int) error
	// Release возвращает места (компенсация ранее успешного TryReserve).
	Release(ctx context.Context, lessonID string, qty int) error
}

// SequenceGenerator выдаёт строго возрастающие номера заказов.
type SequenceGenerator interface {
	// Init создаёт счётчик со значением 0, не трогая уже существующий.
	Init(ctx context.Context) error
	// Next возвращает следующее значение; разные вызовы никогда не получают одно и то же.
	Next(ctx context.Context) (int64, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по Idempotency-Key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// SagaStep задаёт константы шагов оформления заказа для метрик/логов.
type SagaStep string

const (
	SagaStepValidate SagaStep = "validate"
	SagaStepReserve  SagaStep = "reserve"
	SagaStepRelease  SagaStep = "release"
	SagaStepNumber   SagaStep = "number"
	SagaStepPersist  SagaStep = "persist"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
