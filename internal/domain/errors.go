package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Callers classify wrapped errors
// with errors.Is rather than matching strings.
var (
	// ErrInvalidQuery marks malformed user input.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnknownSource marks a request for a source the registry does not
	// know. It is a validation failure: errors.Is matches ErrInvalidQuery too.
	ErrUnknownSource = fmt.Errorf("%w: unknown source", ErrInvalidQuery)

	// ErrNotFound marks a lookup for a record that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSourceUnavailable marks a transient source failure worth retrying.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceDegraded marks a partial answer from a source. Results that
	// arrive with it are kept and the source is not retried.
	ErrSourceDegraded = errors.New("source degraded")

	// ErrLLMUnavailable marks a transient model failure worth retrying.
	ErrLLMUnavailable = errors.New("llm unavailable")

	// ErrScoringUnavailable marks a permanent model failure. Scoring stops
	// and items already scored are kept.
	ErrScoringUnavailable = errors.New("scoring unavailable")

	// ErrStorageUnavailable marks an unreachable subscription store.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
