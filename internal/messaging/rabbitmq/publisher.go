package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
)

const (
	// QueueOrderEvents — очередь событий заказов.
	QueueOrderEvents = "lessons.order.events"
	// QueueDeadLetter — очередь событий, не ушедших после всех попыток.
	QueueDeadLetter = "lessons.order.dlq"

	contentTypeJSON = "application/json"
)

var errPublisherClosed = errors.New("rabbitmq publisher is closed")

// channel — часть *amqp.Channel, которой пользуется паблишер.
type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialer открывает соединение и канал; подменяется в тестах.
type dialer func(url string) (channel, func() error, error)

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return ch, conn.Close, nil
}

// Publisher публикует outbox-события в durable-очередь через default exchange.
// Соединение открывается лениво и переоткрывается после ошибки публикации.
type Publisher struct {
	url    string
	queue  string
	clock  clock.Clock
	logger *log.Entry
	dial   dialer

	mu        sync.Mutex
	ch        channel
	closeConn func() error
	closed    bool
}

// NewPublisher создаёт паблишер для очереди queue (по умолчанию QueueOrderEvents).
func NewPublisher(url, queue string, clk clock.Clock, logger *log.Entry) *Publisher {
	if queue == "" {
		queue = QueueOrderEvents
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = log.WithField("component", "rabbitmq-publisher")
	}
	return &Publisher{
		url:    url,
		queue:  queue,
		clock:  clk,
		logger: logger.WithField("queue", queue),
		dial:   dialAMQP,
	}
}

type envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
}

// Publish отправляет событие как persistent-сообщение.
func (p *Publisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	payload := json.RawMessage(event.Payload)
	if !json.Valid(payload) {
		return fmt.Errorf("outbox %s: payload is not valid json", event.ID)
	}
	body, err := json.Marshal(envelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       payload,
	})
	if err != nil {
		return fmt.Errorf("marshal rabbitmq envelope: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channelLocked()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.EventType,
		Timestamp:    p.clock.Now(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.logger.WithError(err).WithField("outbox_id", event.ID).Warn("rabbitmq publish failed")
		p.resetLocked()
		return fmt.Errorf("publish to rabbitmq: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return p.resetLocked()
}

func (p *Publisher) channelLocked() (channel, error) {
	if p.closed {
		return nil, errPublisherClosed
	}
	if p.ch != nil {
		return p.ch, nil
	}

	ch, closeConn, err := p.dial(p.url)
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if closeConn != nil {
			_ = closeConn()
		}
		return nil, fmt.Errorf("declare rabbitmq queue %s: %w", p.queue, err)
	}

	p.ch = ch
	p.closeConn = closeConn
	p.logger.Info("rabbitmq channel opened")
	return ch, nil
}

func (p *Publisher) resetLocked() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.closeConn != nil {
		errs = append(errs, p.closeConn())
	}
	p.ch = nil
	p.closeConn = nil
	return errors.Join(errs...)
}

var _ domain.OutboxPublisher = (*Publisher)(nil)
