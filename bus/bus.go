// Package bus provides the in-process publish/subscribe fabric for
// audit events. Subscriptions are per-event-type or wildcard; async
// publishes go through a bounded queue drained by a background
// consumer, so publishers never block on slow handlers.
package bus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/khoregos/k6s/types"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Handler is called for each delivered event.
type Handler func(event *types.AuditEvent)

// Config holds configuration for the bus.
type Config struct {
	// QueueSize is the async publish queue capacity.
	// Default: 1024
	QueueSize int

	// OnError is called when an event is dropped or a handler panics.
	OnError func(err error)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		QueueSize: 1024,
	}
}

// Subscription represents an active subscription.
type subscription struct {
	eventType string
	handler   Handler
	id        int64
}

// Bus dispatches audit events to subscribed handlers.
type Bus struct {
	config *Config

	mu            sync.RWMutex
	subscriptions map[string][]*subscription
	nextSubID     int64

	queue   chan *types.AuditEvent
	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc
}

// New creates a bus. A nil config uses defaults.
func New(config *Config) *Bus {
	if config == nil {
		config = DefaultConfig()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}

	return &Bus{
		config:        config,
		subscriptions: make(map[string][]*subscription),
		queue:         make(chan *types.AuditEvent, config.QueueSize),
	}
}

// Start begins consuming the async publish queue.
func (b *Bus) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	b.done = make(chan struct{})
	ctx, b.cancel = context.WithCancel(ctx)
	go b.run(ctx)

	return nil
}

// Stop drains the queue and stops the consumer.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.started.Load() {
		return ErrNotStarted
	}

	b.cancel()
	<-b.done

	b.started.Store(false)
	return nil
}

// IsRunning returns true if the bus is running.
func (b *Bus) IsRunning() bool {
	return b.started.Load()
}

// Subscribe registers a handler for the given event type, or for every
// event when eventType is Wildcard. Returns a function to unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		eventType: eventType,
		handler:   handler,
		id:        b.nextSubID,
	}
	b.nextSubID++

	b.subscriptions[eventType] = append(b.subscriptions[eventType], sub)

	return func() {
		b.unsubscribe(eventType, sub.id)
	}
}

func (b *Bus) unsubscribe(eventType string, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[eventType]
	for i, sub := range subs {
		if sub.id == id {
			b.subscriptions[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish enqueues an event for async dispatch. It never blocks: when
// the queue is full the event is dropped and OnError is notified.
func (b *Bus) Publish(event *types.AuditEvent) {
	select {
	case b.queue <- event:
	default:
		if b.config.OnError != nil {
			b.config.OnError(&DroppedEventError{EventID: event.ID, Type: string(event.Type)})
		}
	}
}

// PublishSync dispatches an event to all matching handlers and returns
// once every handler has run. Handler panics are swallowed.
func (b *Bus) PublishSync(event *types.AuditEvent) {
	b.dispatch(event)
}

// PendingCount returns the current async queue depth.
func (b *Bus) PendingCount() int {
	return len(b.queue)
}

// run consumes the queue until cancellation, then drains what remains.
func (b *Bus) run(ctx context.Context) {
	defer close(b.done)

	for {
		select {
		case event := <-b.queue:
			b.dispatch(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-b.queue:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

// dispatch sends an event to type-specific and wildcard handlers.
func (b *Bus) dispatch(event *types.AuditEvent) {
	b.mu.RLock()
	typed := b.subscriptions[string(event.Type)]
	wild := b.subscriptions[Wildcard]
	subs := make([]*subscription, 0, len(typed)+len(wild))
	subs = append(subs, typed...)
	subs = append(subs, wild...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.safeCall(sub.handler, event)
	}
}

// safeCall invokes a handler, converting panics into OnError callbacks.
func (b *Bus) safeCall(handler Handler, event *types.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			if b.config.OnError != nil {
				b.config.OnError(&HandlerPanicError{EventID: event.ID, Value: r})
			}
		}
	}()
	handler(event)
}
