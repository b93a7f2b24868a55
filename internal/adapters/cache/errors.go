package cache

import "errors"

// Sentinel kinds for cache errors.
var (
	ErrNilResult   = errors.New("refusing to cache nil result")
	ErrUnavailable = errors.New("cache backend unavailable")
)
