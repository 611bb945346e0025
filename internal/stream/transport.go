package stream

import (
	"context"
	"errors"
	"sync"

	"github.com/MegaGrindStone/ollama-relay/internal/models"
)

// DefaultCapacity is the number of events a Transport buffers before Send blocks.
const DefaultCapacity = 100

var (
	// ErrConsumerGone is returned by Send after the consumer detached.
	ErrConsumerGone = errors.New("stream consumer gone")
	// ErrInvalidCapacity is returned by NewTransport for a non-positive capacity.
	ErrInvalidCapacity = errors.New("transport capacity must be positive")
)

// Transport is a bounded FIFO queue of events between exactly one producer and one consumer.
//
// The producer calls Send and finally Close. The consumer ranges over Events and calls Detach when it
// stops reading early, which makes every later Send fail with ErrConsumerGone.
type Transport struct {
	events chan models.Event
	gone   chan struct{}

	closeOnce  sync.Once
	detachOnce sync.Once
}

// NewTransport creates a Transport buffering up to capacity events.
func NewTransport(capacity int) (*Transport, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Transport{
		events: make(chan models.Event, capacity),
		gone:   make(chan struct{}),
	}, nil
}

// Send queues e, blocking while the queue is full. It fails with ErrConsumerGone once the consumer
// detached, and with the context error if ctx is done first.
func (t *Transport) Send(ctx context.Context, e models.Event) error {
	// A detached consumer wins over free buffer space.
	select {
	case <-t.gone:
		return ErrConsumerGone
	default:
	}

	select {
	case t.events <- e:
		return nil
	case <-t.gone:
		return ErrConsumerGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream on the producer side. Calling it more than once is a no-op.
func (t *Transport) Close() {
	t.closeOnce.Do(func() { close(t.events) })
}

// Events returns the consumer side of the queue. It is closed after the producer calls Close.
func (t *Transport) Events() <-chan models.Event {
	return t.events
}

// Detach tells the producer that nobody reads anymore. Calling it more than once is a no-op.
func (t *Transport) Detach() {
	t.detachOnce.Do(func() { close(t.gone) })
}

// Gone is closed once the consumer detached.
func (t *Transport) Gone() <-chan struct{} {
	return t.gone
}
