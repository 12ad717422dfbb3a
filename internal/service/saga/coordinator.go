package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
	"github.com/vladislavdragonenkov/lessons/internal/metrics"
)

const aggregateOrder = "order"

// Coordinator оформляет заказы: резервирует места по каждой позиции,
// откатывает резервы при частичном отказе, выдаёт номер и сохраняет заказ.
type Coordinator struct {
	capacity domain.CapacityStore
	sequence domain.SequenceGenerator
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	clock    clock.Clock

	logger  *log.Entry
	metrics *metrics.ReservationMetrics
	retry   RetryConfig
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithLogger задаёт логгер координатора.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics включает prometheus-метрики оформления.
func WithMetrics(m *metrics.ReservationMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithRetryConfig задаёт политику повторов для возврата мест.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(c *Coordinator) {
		c.retry = cfg
	}
}

// NewCoordinator собирает координатор. timeline и outbox могут быть nil.
func NewCoordinator(
	capacity domain.CapacityStore,
	sequence domain.SequenceGenerator,
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	clk clock.Clock,
	opts ...Option,
) *Coordinator {
	if clk == nil {
		clk = clock.NewSystem()
	}
	c := &Coordinator{
		capacity: capacity,
		sequence: sequence,
		orders:   orders,
		timeline: timeline,
		outbox:   outbox,
		clock:    clk,
		logger:   log.New().WithField("component", "saga"),
		retry:    DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlaceOrder проверяет заказ, списывает места и сохраняет заказ с новым номером.
//
// Ошибки:
//   - *domain.ValidationError: входные данные некорректны, побочных эффектов нет;
//   - *domain.CapacityError: урок не найден или мест мало, резервы откатаны;
//   - *domain.PersistenceError: места списаны, заказ не сохранён;
//   - ошибка ctx, если запрос отменён до резервирования (побочных эффектов нет);
//   - прочие ошибки хранилищ (резервы откатаны).
func (c *Coordinator) PlaceOrder(ctx context.Context, raw domain.OrderInput) (domain.PlacedOrder, error) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.RecordPlaceStarted()
		defer func() {
			c.metrics.RecordPlaceFinished(time.Since(start))
		}()
	}

	stepStart := time.Now()
	validated, err := domain.AssembleOrder(raw)
	c.observeStep(domain.SagaStepValidate, stepStart)
	if err != nil {
		c.recordFailure(metrics.FailureValidation)
		return domain.PlacedOrder{}, err
	}

	if err := ctx.Err(); err != nil {
		c.recordFailure(metrics.FailureInternal)
		return domain.PlacedOrder{}, err
	}
	// Начатое оформление не прерывается отменой запроса: резерв, номер и запись
	// заказа ограничены только таймаутами хранилищ.
	ctx = context.WithoutCancel(ctx)

	journal, err := c.reserveAll(ctx, validated.Items)
	if err != nil {
		c.compensate(ctx, journal)
		if domain.IsCapacity(err) {
			c.recordFailure(metrics.FailureCapacity)
		} else {
			c.recordFailure(metrics.FailureInternal)
		}
		return domain.PlacedOrder{}, err
	}

	stepStart = time.Now()
	seq, err := c.sequence.Next(ctx)
	c.observeStep(domain.SagaStepNumber, stepStart)
	if err != nil {
		c.logger.WithError(err).Warn("order number allocation failed")
		c.compensate(ctx, journal)
		c.recordFailure(metrics.FailureSequence)
		return domain.PlacedOrder{}, fmt.Errorf("allocate order number: %w", err)
	}

	now := c.clock.Now()
	order := domain.Order{
		ID:        uuid.NewString(),
		Number:    domain.FormatOrderNumber(now.Year(), seq),
		Name:      validated.Name,
		Phone:     validated.Phone,
		Items:     validated.Items,
		Notes:     validated.Notes,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
	}

	stepStart = time.Now()
	id, err := c.orders.Insert(ctx, order)
	c.observeStep(domain.SagaStepPersist, stepStart)
	if err != nil {
		persistErr := &domain.PersistenceError{OrderNumber: order.Number, Items: order.Items, Err: err}
		c.logger.WithError(err).WithFields(log.Fields{
			"order_id":     order.ID,
			"order_number": order.Number,
			"items":        len(order.Items),
		}).Error("order not persisted after capacity was reserved")
		if c.metrics != nil {
			c.metrics.RecordPersistFailure()
		}
		c.recordFailure(metrics.FailurePersistence)
		c.emitEvent(ctx, &order, domain.TimelineOrderPersistFailed, err.Error())
		return domain.PlacedOrder{}, persistErr
	}
	order.ID = id

	c.logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"order_number": order.Number,
	}).Info("order placed")
	if c.metrics != nil {
		c.metrics.RecordOrderPlaced()
	}
	c.emitEvent(ctx, &order, domain.TimelineOrderPlaced, "")

	return domain.PlacedOrder{OrderID: order.ID, Number: order.Number}, nil
}

// CompleteOrder переводит заказ в статус done. Повторный вызов — ErrOrderAlreadyDone.
func (c *Coordinator) CompleteOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := c.orders.MarkDone(ctx, orderID, c.clock.Now())
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) && !errors.Is(err, domain.ErrOrderAlreadyDone) {
			c.logger.WithError(err).WithField("order_id", orderID).Error("mark order done failed")
		}
		return domain.Order{}, err
	}

	c.logger.WithField("order_id", order.ID).Info("order completed")
	if c.metrics != nil {
		c.metrics.RecordOrderCompleted()
	}
	c.emitEvent(ctx, &order, domain.TimelineOrderCompleted, "")
	return order, nil
}

// reserveAll резервирует позиции строго по порядку и возвращает журнал успешных резервов.
func (c *Coordinator) reserveAll(ctx context.Context, items []domain.LineItem) (*domain.ReservationLog, error) {
	journal := &domain.ReservationLog{}
	for _, item := range items {
		stepStart := time.Now()
		err := c.capacity.TryReserve(ctx, item.LessonID, item.Qty)
		c.observeStep(domain.SagaStepReserve, stepStart)
		if err == nil {
			journal.Record(domain.Reservation{LessonID: item.LessonID, Qty: item.Qty})
			continue
		}

		fields := log.Fields{
			"lesson_id": item.LessonID,
			"qty":       item.Qty,
			"reserved":  journal.Len(),
		}
		if errors.Is(err, domain.ErrInsufficientCapacity) || errors.Is(err, domain.ErrLessonNotFound) {
			c.logger.WithError(err).WithFields(fields).Info("reservation rejected")
			return journal, &domain.CapacityError{LessonID: item.LessonID, Err: err}
		}
		c.logger.WithError(err).WithFields(fields).Error("reservation failed")
		return journal, fmt.Errorf("reserve lesson %s: %w", item.LessonID, err)
	}
	return journal, nil
}

// compensate возвращает места в порядке, обратном резервированию.
// Отмена контекста запроса не прерывает откат.
func (c *Coordinator) compensate(ctx context.Context, journal *domain.ReservationLog) {
	if journal == nil || journal.Len() == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	for _, r := range journal.Reversed() {
		stepStart := time.Now()
		err := executeWithRetry(ctx, c.retry, c.logger, "release", func(ctx context.Context) error {
			return c.capacity.Release(ctx, r.LessonID, r.Qty)
		})
		c.observeStep(domain.SagaStepRelease, stepStart)
		if err != nil {
			c.logger.WithError(err).WithFields(log.Fields{
				"lesson_id": r.LessonID,
				"qty":       r.Qty,
			}).Error("release failed, capacity needs manual correction")
			continue
		}
		if c.metrics != nil {
			c.metrics.RecordCompensation()
		}
	}
}

type orderEventPayload struct {
	OrderID     string            `json:"order_id"`
	OrderNumber string            `json:"order_number"`
	Status      string            `json:"status"`
	Items       []lineItemPayload `json:"items"`
	Reason      string            `json:"reason,omitempty"`
	Occurred    time.Time         `json:"ts"`
}

type lineItemPayload struct {
	LessonID string `json:"lesson_id"`
	Qty      int    `json:"qty"`
}

// emitEvent пишет событие в outbox и timeline. Ошибки только логируются.
func (c *Coordinator) emitEvent(ctx context.Context, order *domain.Order, eventType, reason string) {
	ctx = context.WithoutCancel(ctx)
	occurred := c.clock.Now()
	entry := c.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"event":    eventType,
	})

	if c.outbox != nil {
		items := make([]lineItemPayload, 0, len(order.Items))
		for _, it := range order.Items {
			items = append(items, lineItemPayload{LessonID: it.LessonID, Qty: it.Qty})
		}
		data, err := json.Marshal(orderEventPayload{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Status:      string(order.Status),
			Items:       items,
			Reason:      reason,
			Occurred:    occurred,
		})
		if err != nil {
			entry.WithError(err).Error("marshal event failed")
		} else if _, err := c.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: aggregateOrder,
			AggregateID:   order.ID,
			EventType:     eventType,
			Payload:       data,
		}); err != nil {
			entry.WithError(err).Error("enqueue event failed")
		} else if c.metrics != nil {
			c.metrics.RecordOutboxEvent()
		}
	}

	if c.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := c.timeline.Append(ctx, event); err != nil {
			entry.WithError(err).Warn("append timeline event failed")
		} else if c.metrics != nil {
			c.metrics.RecordTimelineEvent()
		}
	}
}

func (c *Coordinator) observeStep(step domain.SagaStep, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordStepDuration(string(step), time.Since(start))
	}
}

func (c *Coordinator) recordFailure(reason string) {
	if c.metrics != nil {
		c.metrics.RecordOrderFailed(reason)
	}
}
