package services

import "errors"

// Error kinds returned by services and mapped to HTTP status codes in
// handlers. Wrap with fmt.Errorf("...: %w", Err...) so errors.Is works
// across layers.
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrBackendTimeout   = errors.New("backend timeout")
	ErrUnsupportedType  = errors.New("unsupported content type")
	ErrEmptyDocument    = errors.New("document contains no extractable text")
)
