package models

import "errors"

// Sentinel errors shared by repositories, services and handlers.
// Handlers translate them into HTTP status codes.
var (
	// ErrNotFound is returned when a user, party, location, client or tag
	// cannot be resolved.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned for workflow violations, such as
	// approving a client that is no longer pending.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("conflict")

	// ErrValidation is returned for input that is malformed or incomplete.
	ErrValidation = errors.New("validation failed")

	// ErrTransientStorage is returned for contention or timeouts in the
	// store. It is the only class a caller may retry.
	ErrTransientStorage = errors.New("transient storage failure")
)
