package watcher

import "errors"

var (
	// ErrAlreadyStarted is returned when Start() is called twice
	ErrAlreadyStarted = errors.New("watcher already started")

	// ErrNotStarted is returned when Stop() is called before Start()
	ErrNotStarted = errors.New("watcher not started")
)
