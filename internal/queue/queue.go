// Package queue carries manual tick triggers between processes. The
// in-memory queue serves a single process; AMQP lets dripctl or another
// service ask the worker to run a tick.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/dripmail-backend/internal/pkg/logger"
)

const (
	TopicDripTicks   = "drip_ticks"
	TopicReplyChecks = "reply_checks"
)

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// TriggerKind names the tick a trigger asks for.
type TriggerKind string

const (
	TriggerDrips   TriggerKind = "drips"
	TriggerReplies TriggerKind = "replies"
)

// TriggerCommand asks a worker to run one tick now.
type TriggerCommand struct {
	Kind        TriggerKind `json:"kind"`
	RequestedBy string      `json:"requested_by,omitempty"`
	RequestedAt time.Time   `json:"requested_at"`
}

// Topic returns the topic the command is published on.
func (c TriggerCommand) Topic() string {
	if c.Kind == TriggerReplies {
		return TopicReplyChecks
	}
	return TopicDripTicks
}

// DecodeTrigger accepts the payload shapes the queues deliver: the struct
// itself in-process, raw JSON over AMQP.
func DecodeTrigger(payload any) (TriggerCommand, error) {
	switch p := payload.(type) {
	case TriggerCommand:
		return p, nil
	case *TriggerCommand:
		if p == nil {
			return TriggerCommand{}, fmt.Errorf("nil trigger")
		}
		return *p, nil
	case []byte:
		var cmd TriggerCommand
		if err := json.Unmarshal(p, &cmd); err != nil {
			return TriggerCommand{}, fmt.Errorf("invalid trigger: %w", err)
		}
		return cmd, nil
	default:
		return TriggerCommand{}, fmt.Errorf("unexpected payload type %T", payload)
	}
}

// InMemoryQueue delivers to subscribers in goroutines, retrying failed jobs.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	wg       sync.WaitGroup
	log      *zap.Logger

	MaxRetries int
	Backoff    func(retry int) time.Duration
}

func NewInMemoryQueue(log *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		log:        logger.OrNop(log),
		MaxRetries: 3,
		Backoff:    func(retry int) time.Duration { return time.Duration(retry*500) * time.Millisecond },
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish sends a message to all subscribers
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := q.handlers[topic]
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		job := JobPayload{Topic: topic, Payload: payload, MaxRetries: q.MaxRetries}
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.processJob(handler, job)
		}()
	}
	return nil
}

func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	for {
		err := handler(job.Payload)
		if err == nil {
			q.log.Debug("job processed", zap.String("topic", job.Topic))
			return
		}

		job.RetryCount++
		if job.RetryCount > job.MaxRetries {
			q.log.Error("job permanently failed", zap.String("topic", job.Topic),
				zap.Int("attempts", job.RetryCount), zap.Error(err))
			return
		}
		q.log.Warn("job failed, retrying", zap.String("topic", job.Topic),
			zap.Int("attempt", job.RetryCount), zap.Int("max_retries", job.MaxRetries), zap.Error(err))
		time.Sleep(q.Backoff(job.RetryCount))
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// TriggerHandler runs the tick a command asks for.
type TriggerHandler func(ctx context.Context, cmd TriggerCommand) error

// StartTriggerSubscriber wires handle to both trigger topics. Malformed
// payloads are dropped without retry.
func StartTriggerSubscriber(ctx context.Context, q Queue, handle TriggerHandler, log *zap.Logger) error {
	log = logger.OrNop(log)
	for _, topic := range []string{TopicDripTicks, TopicReplyChecks} {
		topic := topic
		err := q.Subscribe(topic, func(payload any) error {
			cmd, err := DecodeTrigger(payload)
			if err != nil {
				log.Warn("⚠️ dropping invalid trigger", zap.String("topic", topic), zap.Error(err))
				return nil
			}
			log.Info("📩 trigger received", zap.String("kind", string(cmd.Kind)), zap.String("requested_by", cmd.RequestedBy))
			return handle(ctx, cmd)
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}
