// Package notify delivers change notifications keyed by resource identifier.
// A Resolver fans out each change to the subscriptions whose identifier is
// equal to, an ancestor of, or a descendant of the changed one.
package notify

import (
	"context"
	"sync"
)

const defaultBufferSize = 64

// Broker is a generic pub/sub broker. Each subscriber carries a filter;
// Publish delivers only to subscribers whose filter accepts the event.
type Broker[T any] struct {
	subs       map[chan T]func(T) bool
	mu         sync.RWMutex
	done       chan struct{}
	bufferSize int
}

// NewBroker creates a new broker with the default buffer size (64).
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a new broker with a custom buffer size.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	return &Broker[T]{
		subs:       make(map[chan T]func(T) bool),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

// Subscribe creates a subscription channel receiving events accepted by
// filter. A nil filter accepts everything. The channel is closed when ctx is
// cancelled or the broker closes.
func (b *Broker[T]) Subscribe(ctx context.Context, filter func(T) bool) <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		ch := make(chan T)
		close(ch)
		return ch
	default:
	}

	if filter == nil {
		filter = func(T) bool { return true }
	}
	sub := make(chan T, b.bufferSize)
	b.subs[sub] = filter

	// The watcher also ends on done: Close closes every channel itself, and
	// without this case the goroutine of a never-cancelled ctx would leak.
	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()

		select {
		case <-b.done:
			return
		default:
		}

		delete(b.subs, sub)
		close(sub)
	}()

	return sub
}

// Publish sends event to every accepting subscriber and returns how many
// received it. Non-blocking: full subscriber channels drop the event.
func (b *Broker[T]) Publish(event T) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.done:
		return 0
	default:
	}

	delivered := 0
	for sub, accept := range b.subs {
		if !accept(event) {
			continue
		}
		select {
		case sub <- event:
			delivered++
		default:
		}
	}
	return delivered
}

// Close shuts down the broker and all subscriber channels.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return
	default:
	}

	close(b.done)
	for sub := range b.subs {
		close(sub)
	}
	b.subs = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
