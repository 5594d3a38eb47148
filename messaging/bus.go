package messaging

import (
	"context"
	"sync"

	"github.com/evolvai/evolv/core"
)

// Publisher is the narrow interface modules use to emit events.
type Publisher interface {
	Publish(ctx context.Context, topic string, evt EventEnvelope) error
}

// Handler consumes one event. Returning nil acknowledges the message;
// returning an error negatively acknowledges it, and the message is not
// redelivered (at-most-once on failure).
type Handler func(ctx context.Context, evt EventEnvelope) error

// Bus is the topic-based publish/subscribe contract.
type Bus interface {
	Publisher
	Subscribe(topic string, handler Handler) (func(), error)
	Close() error
}

// InMemoryBus is the default Bus: per-subscriber buffered queues with a
// dispatch goroutine each. It preserves publish order per subscriber.
type InMemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	closed bool
	logger core.Logger
	wg     sync.WaitGroup
}

type subscription struct {
	topic   string
	handler Handler
	ch      chan EventEnvelope
	done    chan struct{}
}

const subscriberBuffer = 256

// NewInMemoryBus creates an in-process bus.
func NewInMemoryBus(logger core.Logger) *InMemoryBus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &InMemoryBus{
		subs:   make(map[string][]*subscription),
		logger: logger,
	}
}

// Publish delivers the event to every subscriber of the topic. A slow
// subscriber with a full queue drops the event for that subscriber only.
func (b *InMemoryBus) Publish(ctx context.Context, topic string, evt EventEnvelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return &core.FrameworkError{Op: "bus.Publish", Kind: "messaging", Message: "bus closed"}
	}
	for _, sub := range b.subs[topic] {
		select {
		case sub.ch <- evt:
		default:
			b.logger.Warn("Dropping event for slow subscriber", map[string]interface{}{
				"operation": "bus_publish",
				"topic":     topic,
				"type":      string(evt.Type),
			})
		}
	}
	return nil
}

// Subscribe registers a handler for a topic and returns its unsubscribe
// function.
func (b *InMemoryBus) Subscribe(topic string, handler Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, &core.FrameworkError{Op: "bus.Subscribe", Kind: "messaging", Message: "bus closed"}
	}
	sub := &subscription{
		topic:   topic,
		handler: handler,
		ch:      make(chan EventEnvelope, subscriberBuffer),
		done:    make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)

	b.wg.Add(1)
	go b.dispatch(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(sub)
			close(sub.done)
		})
	}, nil
}

func (b *InMemoryBus) dispatch(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case evt := <-sub.ch:
			if err := sub.handler(context.Background(), evt); err != nil {
				// Negative ack: log and move on, no requeue.
				b.logger.Warn("Event handler failed", map[string]interface{}{
					"operation": "bus_dispatch",
					"topic":     sub.topic,
					"type":      string(evt.Type),
					"error":     err.Error(),
				})
			}
		}
	}
}

func (b *InMemoryBus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Close stops all subscribers.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*subscription)
	b.mu.Unlock()

	for _, sub := range all {
		close(sub.done)
	}
	b.wg.Wait()
	return nil
}
