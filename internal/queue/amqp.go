package queue

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes JSON payloads to durable queues named after the
// topic. Failed deliveries are republished with an incremented
// x-retry-count header and dropped after MaxRetries.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex
	log  *zap.Logger

	// Prefix is prepended to topic names, e.g. "dripmail." -> "dripmail.drip_ticks".
	Prefix     string
	MaxRetries int
}

func NewAMQPQueue(url, prefix string, log *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	return &AMQPQueue{conn: conn, ch: ch, log: logger.OrNop(log), Prefix: prefix, MaxRetries: 3}, nil
}

var _ Queue = (*AMQPQueue)(nil)

func (q *AMQPQueue) name(topic string) string { return q.Prefix + topic }

func (q *AMQPQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(
		q.name(topic), // name
		true,          // durable
		false,         // delete when unused
		false,         // exclusive
		false,         // no-wait
		nil,           // arguments
	)
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return q.publish(topic, body, 0)
}

func (q *AMQPQueue) publish(topic string, body []byte, retries int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.declare(topic); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return q.ch.Publish("", q.name(topic), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: int32(retries)},
		Body:         body,
	})
}

// Subscribe consumes in a goroutine until the channel closes. The handler
// receives the raw JSON body.
func (q *AMQPQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	qu, err := q.declare(topic)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	msgs, err := q.ch.Consume(
		qu.Name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for d := range msgs {
			q.deliver(topic, d, handler)
		}
		q.log.Info("consumer stopped", zap.String("topic", topic))
	}()
	return nil
}

func (q *AMQPQueue) deliver(topic string, d amqp.Delivery, handler func(payload any) error) {
	err := handler(d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	retries := retryCount(d.Headers) + 1
	if retries > q.MaxRetries {
		q.log.Error("job permanently failed", zap.String("topic", topic), zap.Int("attempts", retries), zap.Error(err))
		d.Ack(false)
		return
	}
	q.log.Warn("job failed, requeueing", zap.String("topic", topic), zap.Int("attempt", retries), zap.Error(err))
	if perr := q.publish(topic, d.Body, retries); perr != nil {
		q.log.Error("requeue failed", zap.String("topic", topic), zap.Error(perr))
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func retryCount(h amqp.Table) int {
	switch v := h[retryHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
