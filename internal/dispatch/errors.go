package dispatch

import "errors"

// Sentinel errors for the dispatch layer.
var (
	// ErrRecordNotFound is returned when finalization or requeue
	// targets a send record that was never reserved.
	ErrRecordNotFound = errors.New("send record not found")

	// ErrTerminalStatus is returned when a requeue targets a sent or
	// bounced record. Those outcomes are final.
	ErrTerminalStatus = errors.New("send record is in a terminal status")
)
