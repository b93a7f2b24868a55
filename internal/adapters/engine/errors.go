package engine

import "errors"

// Sentinel kinds for engine errors.
var (
	ErrTimeout     = errors.New("engine call timed out")
	ErrUnavailable = errors.New("engine unavailable")
)
