package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/lessons/internal/clock"
	"github.com/vladislavdragonenkov/lessons/internal/domain"
	"github.com/vladislavdragonenkov/lessons/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/lessons/internal/messaging/rabbitmq"
)

const kafkaClientID = "lessons-service"

// publishers — основной паблишер outbox и паблишер DLQ.
type publishers struct {
	events  domain.OutboxPublisher
	dlq     domain.OutboxPublisher
	closeFn func() error
}

// logPublisher пишет события в лог, когда брокер не настроен.
type logPublisher struct {
	logger *log.Entry
}

var _ domain.OutboxPublisher = (*logPublisher)(nil)

func (p *logPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"aggregate_id": event.AggregateID,
		"event_type":   event.EventType,
	}).Info("outbox event")
	return nil
}

// initPublishers выбирает брокер для outbox по конфигурации.
func initPublishers(cfg Config, clk clock.Clock, logger *log.Entry) (*publishers, error) {
	switch cfg.Publisher {
	case PublisherNone, "":
		return &publishers{
			events:  &logPublisher{logger: logger.WithField("component", "outbox-log")},
			closeFn: func() error { return nil },
		}, nil

	case PublisherKafka:
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:  splitList(cfg.KafkaBrokers),
			ClientID: kafkaClientID,
			Timeout:  10 * time.Second,
		}, logger.WithField("component", "kafka-producer"))
		if err != nil {
			return nil, fmt.Errorf("init kafka producer: %w", err)
		}
		logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
		return &publishers{
			events: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic, clk),
			dlq:    kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic, clk),
			closeFn: func() error {
				closeKafkaProducer(producer, logger)
				return nil
			},
		}, nil

	case PublisherRabbitMQ:
		events := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue, clk, logger.WithField("component", "rabbitmq-publisher"))
		dlq := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQDLQ, clk, logger.WithField("component", "rabbitmq-publisher"))
		logger.WithField("queue", cfg.RabbitMQQueue).Info("rabbitmq publisher initialized")
		return &publishers{
			events: events,
			dlq:    dlq,
			closeFn: func() error {
				return errors.Join(events.Close(), dlq.Close())
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported publisher %q", cfg.Publisher)
	}
}

// closeKafkaProducer закрывает Kafka producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
