package bus

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned when Start() is called twice
	ErrAlreadyStarted = errors.New("bus already started")

	// ErrNotStarted is returned when Stop() is called before Start()
	ErrNotStarted = errors.New("bus not started")
)

// DroppedEventError reports an async publish dropped on queue overflow.
type DroppedEventError struct {
	EventID string
	Type    string
}

func (e *DroppedEventError) Error() string {
	return fmt.Sprintf("event queue full, dropped %s event %s", e.Type, e.EventID)
}

// HandlerPanicError reports a handler panic swallowed during dispatch.
type HandlerPanicError struct {
	EventID string
	Value   any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("handler panic on event %s: %v", e.EventID, e.Value)
}
