package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
	"github.com/vladislavdragonenkov/lessons/internal/storage/memory"
)

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	published      []domain.OutboxMessage
	callCount      int
}

func (p *stubPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.callCount++
	if len(p.sequenceErrors) > 0 {
		err := p.sequenceErrors[0]
		p.sequenceErrors = p.sequenceErrors[1:]
		if err != nil {
			return err
		}
		p.published = append(p.published, event)
		return nil
	}
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

func (p *stubPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}

func (p *stubPublisher) events() []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutboxMessage(nil), p.published...)
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)

func quietLogger() *log.Entry {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger.WithField("component", "outbox-worker-test")
}

func enqueue(t *testing.T, repo *memory.OutboxRepository, eventType string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "6f1c2a10-1e4b-4f5a-9a0e-0d6f8b1a1001",
		EventType:     eventType,
		Payload:       []byte(`{"order_number":"ORD-2026-0001"}`),
	})
	require.NoError(t, err)
	return msg
}

func TestWorkerProcessOnceMarksSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	first := enqueue(t, repo, domain.TimelineOrderPlaced)
	second := enqueue(t, repo, domain.TimelineOrderCompleted)
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithLogger(quietLogger()), WithRetryBaseDelay(0))

	sent := worker.ProcessOnce(context.Background())
	require.Equal(t, 2, sent)
	require.Empty(t, repo.AllPending())

	events := publisher.events()
	require.Len(t, events, 2)
	require.Equal(t, first.ID, events[0].ID)
	require.Equal(t, second.ID, events[1].ID)
}

func TestWorkerProcessOnceMarksFailedAndPublishesToDLQ(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	msg := enqueue(t, repo, domain.TimelineOrderPlaced)
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlq := &stubPublisher{}
	clk := clock.NewManual(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))

	worker := NewWorker(repo, publisher,
		WithLogger(quietLogger()),
		WithDLQPublisher(dlq),
		WithClock(clk),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	sent := worker.ProcessOnce(context.Background())
	require.Zero(t, sent)
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.AllPending())

	dlqEvents := dlq.events()
	require.Len(t, dlqEvents, 1)
	require.Equal(t, msg.ID, dlqEvents[0].ID)

	var envelope DLQEnvelope
	require.NoError(t, json.Unmarshal(dlqEvents[0].Payload, &envelope))
	require.Equal(t, msg.ID, envelope.OutboxID)
	require.Equal(t, domain.TimelineOrderPlaced, envelope.EventType)
	require.Contains(t, envelope.PublishError, "broker unavailable")
	require.JSONEq(t, `{"order_number":"ORD-2026-0001"}`, string(envelope.Payload))
	require.True(t, envelope.DLQPublishedAt.Equal(clk.Now()))
}

func TestWorkerProcessOnceSucceedsAfterRetry(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, domain.TimelineOrderPlaced)
	publisher := &stubPublisher{sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil}}

	worker := NewWorker(repo, publisher, WithLogger(quietLogger()), WithRetryBaseDelay(time.Millisecond), WithMaxAttempts(3))

	require.Equal(t, 1, worker.ProcessOnce(context.Background()))
	require.Equal(t, 3, publisher.calls())
	require.Empty(t, repo.AllPending())
}

func TestWorkerProcessOnceRespectsBatchSize(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	for i := 0; i < 5; i++ {
		enqueue(t, repo, domain.TimelineOrderPlaced)
	}
	publisher := &stubPublisher{}

	worker := NewWorker(repo, publisher, WithLogger(quietLogger()), WithBatchSize(2))

	require.Equal(t, 2, worker.ProcessOnce(context.Background()))
	require.Len(t, repo.AllPending(), 3)
}

func TestWorkerProcessOnceLeavesPendingOnCancel(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, domain.TimelineOrderPlaced)
	publisher := &stubPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	worker := NewWorker(repo, publisher, WithLogger(quietLogger()))
	require.Zero(t, worker.ProcessOnce(ctx))
	require.Len(t, repo.AllPending(), 1)
	require.Zero(t, publisher.calls())
}

func TestWorkerRetryBackoffIsCapped(t *testing.T) {
	t.Parallel()

	worker := NewWorker(memory.NewOutboxRepository(), &stubPublisher{},
		WithRetryBaseDelay(10*time.Millisecond),
		WithRetryMaxDelay(50*time.Millisecond),
	)

	require.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	require.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	require.Equal(t, 50*time.Millisecond, worker.retryBackoff(4))
	require.Equal(t, 50*time.Millisecond, worker.retryBackoff(60))
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	worker := NewWorker(repo, &stubPublisher{}, WithLogger(quietLogger()), WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
