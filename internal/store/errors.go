package store

import "errors"

// Sentinel errors every backend must map its driver errors onto.
// Both represent expected conditions: callers check them with
// errors.Is and neither should be logged as a failure.
var (
	// ErrDuplicateKey is returned when an insert collides with the
	// store's unique key. Under concurrent reservation this means
	// another worker claimed the unit of work first.
	ErrDuplicateKey = errors.New("store: duplicate key")

	// ErrNotFound is returned when no record matches. Lookups treat
	// it as an empty result, never as a transport failure.
	ErrNotFound = errors.New("store: not found")

	// ErrTerminalState is returned when a guarded import job update
	// finds the job already in a terminal status. The losing writer
	// raced a completion or cancellation and must not overwrite it.
	ErrTerminalState = errors.New("store: job in terminal state")
)
