package audit

import "errors"

var (
	// ErrAlreadyStarted is returned when Start() is called twice
	ErrAlreadyStarted = errors.New("audit logger already started")

	// ErrNotStarted is returned when Stop() is called before Start()
	ErrNotStarted = errors.New("audit logger not started")
)
