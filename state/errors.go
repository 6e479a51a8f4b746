package state

import "errors"

var (
	// ErrSessionNotFound is returned when no session matches the lookup
	ErrSessionNotFound = errors.New("session not found")

	// ErrAgentNotFound is returned when no agent matches the lookup
	ErrAgentNotFound = errors.New("agent not found")

	// ErrContextNotFound is returned when no context entry matches the key
	ErrContextNotFound = errors.New("context entry not found")
)
