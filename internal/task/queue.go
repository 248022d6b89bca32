package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Rrens/genai-platform/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Queue is a durable RabbitMQ queue of task envelopes.
type Queue struct {
	conn        *amqp.Connection
	name        string
	prefetch    int
	maxAttempts int

	publishMu sync.Mutex
	publishCh *amqp.Channel
}

// Dial connects to the broker and declares the task queue.
func Dial(ctx context.Context, cfg config.RabbitMQConfig) (*Queue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	q := &Queue{
		conn:        conn,
		name:        cfg.Queue,
		prefetch:    max(1, cfg.Prefetch),
		maxAttempts: max(1, cfg.MaxAttempts),
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(q.name, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", q.name, err)
	}

	log.Info().Str("queue", q.name).Msg("Connected to RabbitMQ")
	return q, nil
}

// Publish sends env as a persistent message.
func (q *Queue) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	q.publishMu.Lock()
	defer q.publishMu.Unlock()

	if q.publishCh == nil || q.publishCh.IsClosed() {
		ch, err := q.conn.Channel()
		if err != nil {
			return fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}
		q.publishCh = ch
	}

	err = q.publishCh.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         string(env.Kind),
		Timestamp:    env.EnqueuedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish task %s: %w", env.Kind, err)
	}
	return nil
}

// Consume dispatches deliveries until ctx is done, running up to prefetch
// handlers at once.
func (q *Queue) Consume(ctx context.Context, dispatcher *Dispatcher, budget time.Duration) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}
	deliveries, err := ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", q.name, err)
	}

	c := &Consumer{dispatcher: dispatcher, publisher: q, maxAttempts: q.maxAttempts, budget: budget}
	sem := make(chan struct{}, q.prefetch)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				c.Process(ctx, d.Body, d)
			}()
		}
	}
}

// Close closes the broker connection.
func (q *Queue) Close() error {
	q.publishMu.Lock()
	if q.publishCh != nil {
		_ = q.publishCh.Close()
	}
	q.publishMu.Unlock()
	return q.conn.Close()
}

// Acknowledger is the ack surface of a delivery.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer applies the retry and continuation policy around a dispatcher.
type Consumer struct {
	dispatcher  *Dispatcher
	publisher   Publisher
	maxAttempts int
	budget      time.Duration
}

func NewConsumer(dispatcher *Dispatcher, publisher Publisher, maxAttempts int, budget time.Duration) *Consumer {
	return &Consumer{dispatcher: dispatcher, publisher: publisher, maxAttempts: max(1, maxAttempts), budget: budget}
}

// Process handles one delivery body and acknowledges it. Failed tasks are
// re-published with a backoff until maxAttempts, then dropped.
func (c *Consumer) Process(ctx context.Context, body []byte, ack Acknowledger) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Error().Err(err).Msg("Dropping undecodable task")
		_ = ack.Nack(false, false)
		return
	}

	if err := sleepUntil(ctx, env.NotBefore); err != nil {
		// Shutting down; let the broker redeliver.
		_ = ack.Nack(false, true)
		return
	}

	runCtx := ctx
	if c.budget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.budget)
		defer cancel()
	}

	err := c.dispatcher.Handle(runCtx, env)
	if next, ok := continuation(err); ok {
		if err == nil {
			_ = ack.Ack(false)
			return
		}
		if perr := c.publisher.Publish(ctx, next); perr != nil {
			log.Error().Err(perr).Str("task_id", env.ID).Msg("Failed to publish continuation")
			_ = ack.Nack(false, true)
			return
		}
		_ = ack.Ack(false)
		return
	}

	logFailure(env, err)
	if errors.Is(err, ErrPermanent) || env.Attempt+1 >= c.maxAttempts {
		_ = ack.Nack(false, false)
		return
	}

	retry := env
	retry.Attempt++
	retry.NotBefore = time.Now().UTC().Add(retryDelay(retry.Attempt))
	if perr := c.publisher.Publish(ctx, retry); perr != nil {
		log.Error().Err(perr).Str("task_id", env.ID).Msg("Failed to publish retry")
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}

// continuation reports whether err is nil or a continuation, and returns
// the continuation envelope if any.
func continuation(err error) (Envelope, bool) {
	if err == nil {
		return Envelope{}, true
	}
	var cont *ContinueError
	if errors.As(err, &cont) {
		return cont.Next, true
	}
	return Envelope{}, false
}

func retryDelay(attempt int) time.Duration {
	d := time.Second
	for i := 1; i < attempt; i++ {
		d *= 3
	}
	return d
}

func logFailure(env Envelope, err error) {
	log.Error().
		Err(err).
		Str("task_id", env.ID).
		Str("kind", string(env.Kind)).
		Int("attempt", env.Attempt).
		Msg("Task failed")
}

func sleepUntil(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		return ctx.Err()
	}
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
