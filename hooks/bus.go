// Package hooks provides an in-process event bus used by the supervisor to
// let multiple subscribers (the SSE streamer, the history writer, telemetry)
// observe every event emitted during a run without the driver branching on
// subscriber identity.
package hooks

import (
	"context"
	"sync"

	"github.com/agentrun/runtime/event"
)

// Subscriber receives every published event in order.
type Subscriber interface {
	HandleEvent(ctx context.Context, ev event.Event) error
}

// SubscriberFunc adapts a plain function to a Subscriber.
type SubscriberFunc func(ctx context.Context, ev event.Event) error

func (f SubscriberFunc) HandleEvent(ctx context.Context, ev event.Event) error { return f(ctx, ev) }

// Subscription lets a caller stop receiving events. Close is idempotent.
type Subscription interface {
	Close() error
}

// Bus fans out published events to every registered subscriber.
type Bus interface {
	Publish(ctx context.Context, ev event.Event) error
	Register(sub Subscriber) (Subscription, error)
}

type subscription struct {
	bus  *bus
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s)
		s.bus.mu.Unlock()
	})
	return nil
}

type bus struct {
	mu          sync.RWMutex
	subscribers map[*subscription]Subscriber
}

// NewBus constructs an empty Bus.
func NewBus() Bus {
	return &bus{subscribers: make(map[*subscription]Subscriber)}
}

// Register adds a subscriber. Returned Subscription.Close removes it.
func (b *bus) Register(sub Subscriber) (Subscription, error) {
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subscribers[s] = sub
	b.mu.Unlock()
	return s, nil
}

// Publish delivers ev to a snapshot of registered subscribers, stopping at
// the first subscriber error.
func (b *bus) Publish(ctx context.Context, ev event.Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()
	if len(subs) == 0 {
		return nil
	}
	for _, sub := range subs {
		if err := sub.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
