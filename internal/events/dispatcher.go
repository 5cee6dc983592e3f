package events

import (
	"context"
	"sync"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Unsubscribe removes a previously registered handler. Calling it more than once is a no-op.
type Unsubscribe func()

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler) Unsubscribe
	SubscribeAll(handler EventHandler) Unsubscribe
}

type listener struct {
	id      uint64
	handler EventHandler
}

// inMemoryDispatcher is a simple synchronous dispatcher.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[EventType][]listener
	wildcard  []listener
}

// NewInMemoryDispatcher creates a dispatcher instance.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]listener),
	}
}

// Publish synchronously invokes handlers for the given event, typed handlers first.
// Handler errors do not stop delivery; the first one is returned.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	targets := make([]listener, 0, len(d.listeners[event.Type])+len(d.wildcard))
	targets = append(targets, d.listeners[event.Type]...)
	targets = append(targets, d.wildcard...)
	d.mu.RUnlock()

	var firstErr error
	for _, l := range targets {
		if err := l.handler(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) Unsubscribe {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners[eventType] = append(d.listeners[eventType], listener{id: id, handler: handler})
	return d.remover(func() {
		d.listeners[eventType] = without(d.listeners[eventType], id)
	})
}

// SubscribeAll registers a handler for every event type.
func (d *inMemoryDispatcher) SubscribeAll(handler EventHandler) Unsubscribe {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.wildcard = append(d.wildcard, listener{id: id, handler: handler})
	return d.remover(func() {
		d.wildcard = without(d.wildcard, id)
	})
}

func (d *inMemoryDispatcher) remover(remove func()) Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			remove()
		})
	}
}

func without(list []listener, id uint64) []listener {
	out := list[:0:0]
	for _, l := range list {
		if l.id != id {
			out = append(out, l)
		}
	}
	return out
}
