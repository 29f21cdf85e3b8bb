package importer

import "errors"

// Sentinel errors for the import engine.
var (
	// ErrJobNotFound is returned when an operation targets an unknown job.
	ErrJobNotFound = errors.New("import job not found")

	// ErrJobTerminal is returned when an operation would mutate a job
	// already in completed, failed, or cancelled state.
	ErrJobTerminal = errors.New("import job is in a terminal state")

	// ErrValidation is returned synchronously for malformed job input.
	ErrValidation = errors.New("invalid import job input")
)
