package portal

import "errors"

// Sentinel errors mapped to HTTP status codes at the API boundary.
var (
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrAmbiguousName = errors.New("ambiguous name")
	ErrConflict      = errors.New("conflict")
	ErrTaskFailed    = errors.New("task failed")
)

// ErrQueueClosed is returned by a Queue after shutdown.
var ErrQueueClosed = errors.New("queue closed")
