package ratelimit

import "errors"

// Sentinel kinds for limiter errors.
var (
	ErrUnavailable = errors.New("rate limiter backend unavailable")
)
