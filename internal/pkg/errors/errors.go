package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrTransport marks network/timeout/5xx failures against remote APIs.
	ErrTransport = errors.New("transport error")
	// ErrRateLimited marks 429 responses; retried like transport errors.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidResponse marks unparsable model output. Never retried.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrStorageUnavailable marks vector/graph store connectivity failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
