package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/khoregos/k6s/types"
)

func testEvent(eventType types.EventType) *types.AuditEvent {
	return &types.AuditEvent{
		ID:     types.NewID(),
		Type:   eventType,
		Action: "test",
	}
}

func TestBus_StartStop(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !b.IsRunning() {
		t.Error("Expected bus to be running")
	}

	if err := b.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("Start() error = %v, want %v", err, ErrAlreadyStarted)
	}

	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if b.IsRunning() {
		t.Error("Expected bus to not be running")
	}
}

func TestBus_StopNotStarted(t *testing.T) {
	b := New(nil)

	if err := b.Stop(context.Background()); err != ErrNotStarted {
		t.Fatalf("Stop() error = %v, want %v", err, ErrNotStarted)
	}
}

func TestBus_PublishDelivers(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	var received []*types.AuditEvent
	var mu sync.Mutex

	b.Subscribe(string(types.EventLockAcquired), func(event *types.AuditEvent) {
		mu.Lock()
		received = append(received, event)
		mu.Unlock()
	})

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	b.Publish(testEvent(types.EventLockAcquired))
	b.Publish(testEvent(types.EventFileModify)) // no subscriber

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	if len(received) != 1 {
		t.Errorf("Received %d events, want 1", len(received))
	}
	mu.Unlock()

	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestBus_WildcardSubscription(t *testing.T) {
	b := New(nil)

	var count atomic.Int32
	b.Subscribe(Wildcard, func(event *types.AuditEvent) {
		count.Add(1)
	})

	b.PublishSync(testEvent(types.EventLog))
	b.PublishSync(testEvent(types.EventFileCreate))
	b.PublishSync(testEvent(types.EventGateTriggered))

	if count.Load() != 3 {
		t.Errorf("Wildcard handler called %d times, want 3", count.Load())
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(nil)

	var count atomic.Int32
	unsubscribe := b.Subscribe(string(types.EventLog), func(event *types.AuditEvent) {
		count.Add(1)
	})

	b.PublishSync(testEvent(types.EventLog))
	unsubscribe()
	b.PublishSync(testEvent(types.EventLog))

	if count.Load() != 1 {
		t.Errorf("Handler called %d times after unsubscribe, want 1", count.Load())
	}
}

func TestBus_PublishSyncSwallowsPanic(t *testing.T) {
	var errs []error
	b := New(&Config{OnError: func(err error) { errs = append(errs, err) }})

	b.Subscribe(string(types.EventLog), func(event *types.AuditEvent) {
		panic("handler failure")
	})

	var after atomic.Int32
	b.Subscribe(string(types.EventLog), func(event *types.AuditEvent) {
		after.Add(1)
	})

	b.PublishSync(testEvent(types.EventLog))

	if after.Load() != 1 {
		t.Error("Expected later handlers to run after a panic")
	}
	if len(errs) != 1 {
		t.Fatalf("OnError called %d times, want 1", len(errs))
	}
	if _, ok := errs[0].(*HandlerPanicError); !ok {
		t.Errorf("OnError error type = %T, want *HandlerPanicError", errs[0])
	}
}

func TestBus_OverflowDrops(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	b := New(&Config{
		QueueSize: 2,
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	})

	// Not started: nothing consumes the queue.
	b.Publish(testEvent(types.EventLog))
	b.Publish(testEvent(types.EventLog))
	b.Publish(testEvent(types.EventLog)) // dropped

	if b.PendingCount() != 2 {
		t.Errorf("PendingCount() = %d, want 2", b.PendingCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("OnError called %d times, want 1", len(errs))
	}
	if _, ok := errs[0].(*DroppedEventError); !ok {
		t.Errorf("OnError error type = %T, want *DroppedEventError", errs[0])
	}
}

func TestBus_StopDrainsQueue(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	var count atomic.Int32
	b.Subscribe(Wildcard, func(event *types.AuditEvent) {
		count.Add(1)
	})

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 100; i++ {
		b.Publish(testEvent(types.EventLog))
	}

	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if count.Load() != 100 {
		t.Errorf("Delivered %d events, want 100", count.Load())
	}
	if b.PendingCount() != 0 {
		t.Errorf("PendingCount() = %d, want 0", b.PendingCount())
	}
}
