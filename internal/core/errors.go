package core

import "errors"

// Error taxonomy. Callers match with errors.Is; call sites wrap with
// fmt.Errorf("...: %w", err) to add context.
var (
	// ErrValidation indicates bad input: empty content, non-positive limit.
	ErrValidation = errors.New("validation error")

	// ErrUpstreamUnavailable indicates the inference service or vector
	// store could not be reached after bounded retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrCacheUnavailable indicates a cache tier failed. Never fatal:
	// the system behaves as if the cache were empty.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrNotFound indicates a requested entity or collection does not exist.
	ErrNotFound = errors.New("not found")
)
