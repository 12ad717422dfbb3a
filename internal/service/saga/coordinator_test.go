package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
	"github.com/vladislavdragonenkov/lessons/internal/metrics"
	"github.com/vladislavdragonenkov/lessons/internal/storage/memory"
)

const (
	lessonMath    = "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0001"
	lessonMusic   = "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0002"
	lessonUnknown = "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a00ff"
)

type fixture struct {
	lessons  *memory.LessonStore
	sequence domain.SequenceGenerator
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   *memory.OutboxRepository
	clock    *clock.Manual
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		lessons:  memory.NewLessonStore(),
		sequence: memory.NewSequence(),
		orders:   memory.NewOrderRepository(),
		timeline: memory.NewTimelineRepository(),
		outbox:   memory.NewOutboxRepository(),
		clock:    clock.NewManual(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, f.sequence.Init(ctx))
	f.addLesson(t, lessonMath, "Math", 5)
	f.addLesson(t, lessonMusic, "Music", 1)
	return f
}

func (f *fixture) addLesson(t *testing.T, id, topic string, space int) {
	t.Helper()
	require.NoError(t, f.lessons.Create(context.Background(), domain.Lesson{
		ID:             id,
		Topic:          topic,
		Location:       "Hendon",
		PriceMinor:     10000,
		RemainingSpace: space,
		TotalSpace:     space,
		Icon:           topic + ".png",
	}))
}

func (f *fixture) coordinator(capacity domain.CapacityStore, opts ...Option) *Coordinator {
	if capacity == nil {
		capacity = f.lessons
	}
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithRetryConfig(fastRetry()),
	}, opts...)
	return NewCoordinator(capacity, f.sequence, f.orders, f.timeline, f.outbox, f.clock, opts...)
}

func (f *fixture) remaining(t *testing.T, id string) int {
	t.Helper()
	lesson, err := f.lessons.Get(context.Background(), id)
	require.NoError(t, err)
	return lesson.RemainingSpace
}

func input(items ...domain.LineItemInput) domain.OrderInput {
	return domain.OrderInput{
		Name:    "Ada Lovelace",
		Phone:   "07123456789",
		Lessons: items,
		Notes:   "after school",
	}
}

func item(id string, qty int) domain.LineItemInput {
	return domain.LineItemInput{ID: id, Qty: json.Number(fmt.Sprint(qty))}
}

// flakyCapacity оборачивает хранилище и подменяет ответы для отдельных уроков.
type flakyCapacity struct {
	domain.CapacityStore

	mu          sync.Mutex
	reserveErr  map[string]error
	releaseErrs int
	released    []domain.Reservation
}

func (f *flakyCapacity) TryReserve(ctx context.Context, lessonID string, qty int) error {
	f.mu.Lock()
	err := f.reserveErr[lessonID]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.CapacityStore.TryReserve(ctx, lessonID, qty)
}

func (f *flakyCapacity) Release(ctx context.Context, lessonID string, qty int) error {
	f.mu.Lock()
	if f.releaseErrs > 0 {
		f.releaseErrs--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.released = append(f.released, domain.Reservation{LessonID: lessonID, Qty: qty})
	f.mu.Unlock()
	return f.CapacityStore.Release(ctx, lessonID, qty)
}

type failingSequence struct{ err error }

func (s failingSequence) Init(context.Context) error          { return nil }
func (s failingSequence) Next(context.Context) (int64, error) { return 0, s.err }

type failingOrders struct {
	domain.OrderRepository
	err error
}

func (r failingOrders) Insert(context.Context, domain.Order) (string, error) { return "", r.err }

func TestPlaceOrderSuccess(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil)

	placed, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 2), item(lessonMusic, 1)))
	require.NoError(t, err)
	require.Equal(t, "ORD-2026-0001", placed.Number)
	require.NotEmpty(t, placed.OrderID)

	require.Equal(t, 3, f.remaining(t, lessonMath))
	require.Equal(t, 0, f.remaining(t, lessonMusic))

	stored, err := f.orders.Get(context.Background(), placed.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
	require.Equal(t, "Ada Lovelace", stored.Name)
	require.Equal(t, []domain.LineItem{{LessonID: lessonMath, Qty: 2}, {LessonID: lessonMusic, Qty: 1}}, stored.Items)
	require.True(t, stored.CreatedAt.Equal(f.clock.Now()))

	events, err := f.timeline.List(context.Background(), placed.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.TimelineOrderPlaced, events[0].Type)

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.TimelineOrderPlaced, pending[0].EventType)
	require.Equal(t, placed.OrderID, pending[0].AggregateID)

	var payload orderEventPayload
	require.NoError(t, json.Unmarshal(pending[0].Payload, &payload))
	require.Equal(t, placed.Number, payload.OrderNumber)
	require.Len(t, payload.Items, 2)
}

func TestPlaceOrderValidationHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil)

	bad := input(item(lessonMath, 1))
	bad.Phone = "12345"

	_, err := c.PlaceOrder(context.Background(), bad)
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrInvalidPhone)
	require.True(t, domain.IsValidation(err))

	require.Equal(t, 5, f.remaining(t, lessonMath))
	next, err := f.sequence.Next(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, next, "validation failure must not consume a number")
	require.Empty(t, f.outbox.AllPending())
}

func TestPlaceOrderInsufficientCapacityRollsBack(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil)

	_, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 2), item(lessonMusic, 3)))
	require.Error(t, err)

	var capErr *domain.CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, lessonMusic, capErr.LessonID)
	require.ErrorIs(t, err, domain.ErrInsufficientCapacity)

	require.Equal(t, 5, f.remaining(t, lessonMath))
	require.Equal(t, 1, f.remaining(t, lessonMusic))

	all, err := f.orders.ListAll(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestPlaceOrderUnknownLessonRollsBackInReverseOrder(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyCapacity{CapacityStore: f.lessons}
	c := f.coordinator(flaky)

	_, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 1), item(lessonMusic, 1), item(lessonUnknown, 1)))
	require.ErrorIs(t, err, domain.ErrLessonNotFound)

	var capErr *domain.CapacityError
	require.ErrorAs(t, err, &capErr)
	require.Equal(t, lessonUnknown, capErr.LessonID)

	require.Equal(t, []domain.Reservation{
		{LessonID: lessonMusic, Qty: 1},
		{LessonID: lessonMath, Qty: 1},
	}, flaky.released)
	require.Equal(t, 5, f.remaining(t, lessonMath))
	require.Equal(t, 1, f.remaining(t, lessonMusic))
}

func TestPlaceOrderUnexpectedStoreErrorIsWrapped(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("redis: connection refused")
	flaky := &flakyCapacity{CapacityStore: f.lessons, reserveErr: map[string]error{lessonMusic: boom}}
	c := f.coordinator(flaky)

	_, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 2), item(lessonMusic, 1)))
	require.ErrorIs(t, err, boom)

	var capErr *domain.CapacityError
	require.False(t, errors.As(err, &capErr))
	require.Equal(t, 5, f.remaining(t, lessonMath))
}

func TestPlaceOrderReleaseIsRetried(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyCapacity{CapacityStore: f.lessons, releaseErrs: 2}
	c := f.coordinator(flaky)

	_, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 4), item(lessonMusic, 2)))
	require.ErrorIs(t, err, domain.ErrInsufficientCapacity)
	require.Equal(t, 5, f.remaining(t, lessonMath))
}

func TestPlaceOrderCompensatesWhenStoreReportsCancellation(t *testing.T) {
	f := newFixture(t)
	flaky := &flakyCapacity{CapacityStore: f.lessons, reserveErr: map[string]error{lessonMusic: context.Canceled}}
	c := f.coordinator(flaky)

	_, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 3), item(lessonMusic, 1)))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 5, f.remaining(t, lessonMath))
}

func TestPlaceOrderCancelledBeforeStartHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.PlaceOrder(ctx, input(item(lessonMath, 3)))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 5, f.remaining(t, lessonMath))
	require.Empty(t, f.outbox.AllPending())

	orders, err := f.orders.ListAll(context.Background(), true)
	require.NoError(t, err)
	require.Empty(t, orders)
}

// cancellingSequence отменяет запрос сразу после выдачи номера, как при обрыве соединения клиента.
type cancellingSequence struct {
	domain.SequenceGenerator
	cancel context.CancelFunc
}

func (s cancellingSequence) Next(ctx context.Context) (int64, error) {
	n, err := s.SequenceGenerator.Next(ctx)
	s.cancel()
	return n, err
}

// ctxOrders отвечает ошибкой контекста, как ExecContext на отменённом запросе.
type ctxOrders struct {
	domain.OrderRepository
}

func (r ctxOrders) Insert(ctx context.Context, order domain.Order) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return r.OrderRepository.Insert(ctx, order)
}

// cancellingCapacity отменяет запрос после первого резерва и отвечает ошибкой контекста дальше.
type cancellingCapacity struct {
	domain.CapacityStore
	cancel context.CancelFunc
}

func (c cancellingCapacity) TryReserve(ctx context.Context, lessonID string, qty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := c.CapacityStore.TryReserve(ctx, lessonID, qty)
	c.cancel()
	return err
}

func TestPlaceOrderClientDisconnectAfterNumbering(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCoordinator(f.lessons, cancellingSequence{SequenceGenerator: f.sequence, cancel: cancel},
		ctxOrders{OrderRepository: f.orders}, f.timeline, f.outbox, f.clock, WithLogger(quietLogger()))

	placed, err := c.PlaceOrder(ctx, input(item(lessonMath, 2)))
	require.NoError(t, err)
	require.Equal(t, "ORD-2026-0001", placed.Number)
	require.Error(t, ctx.Err())

	// Места списаны ровно под сохранённый заказ.
	require.Equal(t, 3, f.remaining(t, lessonMath))
	order, err := f.orders.Get(context.Background(), placed.OrderID)
	require.NoError(t, err)
	require.Equal(t, []domain.LineItem{{LessonID: lessonMath, Qty: 2}}, order.Items)

	events, err := f.timeline.List(context.Background(), placed.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.TimelineOrderPlaced, events[0].Type)
}

func TestPlaceOrderClientDisconnectDuringReservation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := NewCoordinator(cancellingCapacity{CapacityStore: f.lessons, cancel: cancel}, f.sequence,
		ctxOrders{OrderRepository: f.orders}, f.timeline, f.outbox, f.clock, WithLogger(quietLogger()))

	placed, err := c.PlaceOrder(ctx, input(item(lessonMath, 2), item(lessonMusic, 1)))
	require.NoError(t, err)
	require.Equal(t, 3, f.remaining(t, lessonMath))
	require.Equal(t, 0, f.remaining(t, lessonMusic))

	_, err = f.orders.Get(context.Background(), placed.OrderID)
	require.NoError(t, err)
}

func TestPlaceOrderSequenceFailureCompensates(t *testing.T) {
	f := newFixture(t)
	c := NewCoordinator(f.lessons, failingSequence{err: domain.ErrSequenceNotInitialized}, f.orders, f.timeline, f.outbox, f.clock,
		WithLogger(quietLogger()))

	_, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 2)))
	require.ErrorIs(t, err, domain.ErrSequenceNotInitialized)
	require.Equal(t, 5, f.remaining(t, lessonMath))
}

func TestPlaceOrderPersistenceFailureKeepsReservation(t *testing.T) {
	f := newFixture(t)
	dbErr := errors.New("write conflict")
	c := NewCoordinator(f.lessons, f.sequence, failingOrders{OrderRepository: f.orders, err: dbErr}, f.timeline, f.outbox, f.clock,
		WithLogger(quietLogger()))

	_, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 2)))
	require.ErrorIs(t, err, dbErr)

	var persistErr *domain.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	require.Equal(t, "ORD-2026-0001", persistErr.OrderNumber)
	require.Equal(t, []domain.LineItem{{LessonID: lessonMath, Qty: 2}}, persistErr.Items)

	require.Equal(t, 3, f.remaining(t, lessonMath))

	pending := f.outbox.AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.TimelineOrderPersistFailed, pending[0].EventType)
}

func TestPlaceOrderNumbersAreMonotonic(t *testing.T) {
	f := newFixture(t)
	f.addLesson(t, "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0003", "Chess", 100)
	c := f.coordinator(nil)

	var previous string
	for i := 0; i < 12; i++ {
		placed, err := c.PlaceOrder(context.Background(), input(item("6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a0003", 1)))
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("ORD-2026-%04d", i+1), placed.Number)
		if previous != "" {
			require.Greater(t, placed.Number, previous)
		}
		previous = placed.Number
	}
}

func TestPlaceOrderConcurrentLastSeat(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.PlaceOrder(context.Background(), input(item(lessonMusic, 1)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrInsufficientCapacity):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, success)
	require.Equal(t, workers-1, rejected)
	require.Equal(t, 0, f.remaining(t, lessonMusic))
}

func TestCompleteOrder(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil)

	placed, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 1)))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	done, err := c.CompleteOrder(context.Background(), placed.OrderID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusDone, done.Status)
	require.True(t, done.CompletedAt.Equal(f.clock.Now()))

	_, err = c.CompleteOrder(context.Background(), placed.OrderID)
	require.ErrorIs(t, err, domain.ErrOrderAlreadyDone)

	events, err := f.timeline.List(context.Background(), placed.OrderID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.TimelineOrderCompleted, events[1].Type)
}

func TestCompleteOrderNotFound(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil)

	_, err := c.CompleteOrder(context.Background(), "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1affff")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestPlaceOrderRecordsMetrics(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	c := f.coordinator(nil, WithMetrics(metrics.NewReservationMetricsWithRegisterer(reg)))

	_, err := c.PlaceOrder(context.Background(), input(item(lessonMath, 1)))
	require.NoError(t, err)
	_, err = c.PlaceOrder(context.Background(), input(item(lessonMath, 1), item(lessonMusic, 9)))
	require.Error(t, err)

	require.Equal(t, 1.0, gatheredValue(t, reg, "lessons_orders_placed_total"))
	require.Equal(t, 1.0, gatheredValue(t, reg, "lessons_orders_failed_total"))
	require.Equal(t, 1.0, gatheredValue(t, reg, "lessons_reservation_compensations_total"))
	require.Equal(t, 0.0, gatheredValue(t, reg, "lessons_place_order_in_flight"))
}

func gatheredValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}
