package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound          = errors.New("submission not found")
	ErrConflict          = errors.New("submission already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)
