package audit

import "errors"

var (
	// ErrEventValidation indicates a malformed audit event.
	ErrEventValidation = errors.New("audit event validation failed")

	// ErrStorageFailure wraps storage backend errors.
	ErrStorageFailure = errors.New("audit storage failure")
)
