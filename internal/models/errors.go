package models

import "errors"

// Error taxonomy surfaced by the engine and pipeline entry points.
// Internal helpers wrap these with fmt.Errorf("%w") and the API layer
// matches them with errors.Is.
var (
	// ErrNotFound covers missing documents, conversations and exports,
	// including tenant mismatches (a foreign tenant's row is "not found").
	ErrNotFound = errors.New("not found")

	// ErrValidation marks malformed caller input.
	ErrValidation = errors.New("validation failed")

	// ErrProviderFailure marks a failed embedding or completion call.
	// The engine does not retry these.
	ErrProviderFailure = errors.New("provider failure")

	// ErrBatchMismatch is returned when an embedding call yields a vector
	// count different from its input count. Fatal for that batch.
	ErrBatchMismatch = errors.New("inconsistent batch result")

	// ErrDuplicateActiveConversation signals the uniqueness constraint on
	// active conversations fired. Handled internally by re-reading the
	// winning row, never surfaced to callers.
	ErrDuplicateActiveConversation = errors.New("duplicate active conversation")

	// ErrDispatcherBusy signals the parse queue is full.
	ErrDispatcherBusy = errors.New("parse queue full")
)
