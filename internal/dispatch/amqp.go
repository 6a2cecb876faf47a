package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"whereabouts-backend/internal/events"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// DefaultQueue is the queue events are published to
const DefaultQueue = "whereabouts.events"

// amqpChannel is the part of *amqp.Channel the sink uses
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink publishes events as persistent JSON messages to a durable queue
type AMQPSink struct {
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   amqpChannel
	now  func() time.Time
}

// NewAMQPSink connects to the broker and declares the queue
func NewAMQPSink(url, queue string) (*AMQPSink, error) {
	if queue == "" {
		queue = DefaultQueue
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}

	// durable, not auto-deleted, not exclusive
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	log.Info().Str("queue", queue).Msg("AMQP event sink connected")

	return &AMQPSink{queue: queue, conn: conn, ch: ch, now: time.Now}, nil
}

func newAMQPSinkWithChannel(queue string, ch amqpChannel, now func() time.Time) *AMQPSink {
	return &AMQPSink{queue: queue, ch: ch, now: now}
}

func (s *AMQPSink) Name() string { return "amqp" }

// Publish sends the event envelope through the default exchange with the
// queue name as routing key
func (s *AMQPSink) Publish(ctx context.Context, ev events.Event) error {
	body, err := events.Marshal(ev)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    s.now().UTC(),
		Type:         ev.Name(),
		Body:         body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ch.PublishWithContext(ctx, "", s.queue, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", ev.Name(), s.queue, err)
	}
	return nil
}

// Close closes the channel and the connection
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ch.Close(); err != nil {
		return fmt.Errorf("failed to close amqp channel: %w", err)
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			return fmt.Errorf("failed to close amqp connection: %w", err)
		}
	}
	return nil
}
