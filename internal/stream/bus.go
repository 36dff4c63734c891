// Package stream provides the ordered publish/subscribe fan-out every state
// change flows through. Subscribers observe events in exactly the order they
// were published, which is what the ledger and journey projections rely on.
package stream

import (
	"context"
	"log/slog"
	"sync"

	"kopa/internal/domain"
)

// Subscriber receives every published envelope. Handlers run synchronously on
// the dispatching goroutine; they may publish further events, which are
// queued behind the one being dispatched.
type Subscriber interface {
	HandleEvent(ctx context.Context, envelope domain.Envelope)
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, envelope domain.Envelope)

func (f SubscriberFunc) HandleEvent(ctx context.Context, envelope domain.Envelope) {
	f(ctx, envelope)
}

// Bus is a FIFO dispatch queue. Publishing while a dispatch is in progress
// (from a handler, or from another goroutine) enqueues the envelope; a single
// drain loop delivers events one at a time, so global emission order is
// preserved and re-entrant publishes cannot deadlock.
type Bus struct {
	mu          sync.Mutex
	queue       []domain.Envelope
	dispatching bool
	subscribers []Subscriber
	logger      *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a subscriber. Registration is expected to happen at
// composition time, before the first publish.
func (b *Bus) Subscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, sub)
}

// Publish enqueues the envelope and, unless another drain is already running,
// dispatches the queue in order. The call returns once every event it was
// responsible for draining has been delivered to all subscribers.
func (b *Bus) Publish(ctx context.Context, envelope domain.Envelope) {
	b.mu.Lock()
	b.queue = append(b.queue, envelope)
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true

	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		subs := append([]Subscriber(nil), b.subscribers...)
		b.mu.Unlock()

		for _, sub := range subs {
			sub.HandleEvent(ctx, next)
		}

		b.mu.Lock()
	}
	b.dispatching = false
	b.mu.Unlock()
}
