// Package dispatch hands domain events to the outbound sinks: the message
// broker, MQTT displays, the live admin feed and the log.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"whereabouts-backend/internal/events"
	"whereabouts-backend/internal/metrics"

	"github.com/rs/zerolog/log"
)

// Sink receives events. Sinks must tolerate receiving an event twice.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev events.Event) error
}

// Dispatcher accepts events emitted by the services
type Dispatcher interface {
	Dispatch(ctx context.Context, ev events.Event) error
}

// ErrClosed is returned when dispatching to a stopped fanout
var ErrClosed = errors.New("dispatcher closed")

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

// Fanout queues events and delivers each of them to every sink from a
// single worker goroutine, so sinks see events in dispatch order.
type Fanout struct {
	sinks          []Sink
	metrics        *metrics.Metrics
	publishTimeout time.Duration

	queue chan events.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewFanout creates a fanout and starts its worker. m may be nil.
func NewFanout(m *metrics.Metrics, sinks ...Sink) *Fanout {
	f := &Fanout{
		sinks:          sinks,
		metrics:        m,
		publishTimeout: defaultPublishTimeout,
		queue:          make(chan events.Event, defaultQueueSize),
	}

	f.wg.Add(1)
	go f.run()

	return f
}

// Dispatch queues the event. It blocks while the queue is full until the
// context is done.
func (f *Fanout) Dispatch(ctx context.Context, ev events.Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrClosed
	}

	select {
	case f.queue <- ev:
		return nil
	case <-ctx.Done():
		log.Warn().Str("event", ev.Name()).Msg("Dropped event, dispatch queue full")
		return ctx.Err()
	}
}

// Close stops accepting events, delivers the queued ones and waits for
// the worker to exit
func (f *Fanout) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *Fanout) run() {
	defer f.wg.Done()

	for ev := range f.queue {
		for _, sink := range f.sinks {
			f.deliver(sink, ev)
		}
	}
}

func (f *Fanout) deliver(sink Sink, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), f.publishTimeout)
	defer cancel()

	started := time.Now()
	err := sink.Publish(ctx, ev)
	if f.metrics != nil {
		f.metrics.ObserveDispatch(ev.Name(), sink.Name(), started, err)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("sink", sink.Name()).
			Str("event", ev.Name()).
			Msg("Failed to publish event")
	}
}
