// README: Error sentinels shared across module boundaries.
package types

import "errors"

var (
	// ErrNotFound is wrapped by every store when a row is absent.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals an optimistic-lock collision; retry the whole operation.
	ErrConflict = errors.New("conflict, retry")
	// ErrBadRequest wraps input validation failures.
	ErrBadRequest = errors.New("bad request")
)
