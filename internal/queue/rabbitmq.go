package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"form-webhook-sync/internal/models"
	"form-webhook-sync/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher announces stored submissions to sync workers.
type Publisher interface {
	Publish(ctx context.Context, notice models.SubmissionNotice) error
	Close() error
}

// NoopPublisher is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.SubmissionNotice) error {
	return nil
}

func (NoopPublisher) Close() error {
	return nil
}

type RabbitMQ struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	exchangeName string
	logger       *zap.Logger
	queueName    string
}

// StartMetricsUpdater starts a goroutine to periodically update queue metrics
func (r *RabbitMQ) StartMetricsUpdater(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if queue, err := r.ch.QueueInspect(r.queueName); err == nil {
					metrics.NoticeQueueSize.Set(float64(queue.Messages))
				}
			}
		}
	}()
}

func NewRabbitMQ(url, exchangeName, queueName string, logger *zap.Logger) (*RabbitMQ, error) {
	conn, err := NewRabbitMQConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %v", err)
	}

	if err := declareTopology(ch, exchangeName, queueName); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &RabbitMQ{
		conn:         conn,
		ch:           ch,
		exchangeName: exchangeName,
		logger:       logger,
		queueName:    queueName,
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, notice models.SubmissionNotice) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %v", err)
	}

	headers := make(amqp.Table)
	headers["submission_id"] = notice.SubmissionID
	headers["form_id"] = notice.FormID

	err = r.ch.PublishWithContext(ctx,
		r.exchangeName,
		"",    // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Headers:      headers,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    notice.SubmissionID,
			Timestamp:    notice.ReceivedAt,
		})

	if err != nil {
		return fmt.Errorf("failed to publish message: %v", err)
	}

	return nil
}

// Consume delivers decoded notices until ctx is done or the channel closes.
// Messages are acked once decoded; an undecodable message is dropped since
// the poll loop picks up every submission anyway.
func (r *RabbitMQ) Consume(ctx context.Context, consumerTag string) (<-chan models.SubmissionNotice, error) {
	if err := r.ch.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %v", err)
	}

	msgs, err := r.ch.Consume(
		r.queueName,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %v", err)
	}

	out := make(chan models.SubmissionNotice)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn("Notice channel closed")
					return
				}
				var notice models.SubmissionNotice
				if err := json.Unmarshal(msg.Body, &notice); err != nil {
					r.logger.Error("Failed to unmarshal notice", zap.Error(err))
					msg.Nack(false, false)
					continue
				}
				msg.Ack(false)
				select {
				case out <- notice:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.ch.Close(); err != nil {
		r.logger.Error("Failed to close channel", zap.Error(err))
	}
	if err := r.conn.Close(); err != nil {
		r.logger.Error("Failed to close connection", zap.Error(err))
	}
	return nil
}
