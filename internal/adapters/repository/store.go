// Package repository defines the submission store interface and errors.
package repository

import (
	"context"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	// Status keeps only submissions in the given state when non-empty.
	Status model.Status
	// Language keeps only submissions for the given language when non-empty.
	Language string
	// MinScore keeps only completed submissions scoring at least this value
	// when positive.
	MinScore int
	// MaxScore keeps only completed submissions scoring at most this value
	// when positive.
	MaxScore int
	// Offset skips the first N matching submissions in newest-first order.
	Offset int
	// Limit caps the number of returned submissions. Zero means no cap.
	Limit int
}

// Page is one slice of a List result plus the total match count.
type Page struct {
	Submissions []model.Submission
	Total       int
}

// Store provides read/write access to submission state.
type Store interface {
	// Create persists a new submission.
	// Returns ErrConflict if the ID is already present.
	Create(ctx context.Context, sub model.Submission) error

	// Get returns the submission with the given ID.
	// Returns ErrNotFound if the ID is unknown.
	Get(ctx context.Context, id string) (model.Submission, error)

	// List returns submissions matching the filter, newest first.
	List(ctx context.Context, f Filter) (Page, error)

	// UpdateStatus moves a submission to the given state, recording an
	// optional failure reason. Returns ErrInvalidTransition when the move
	// is not allowed from the current state.
	UpdateStatus(ctx context.Context, id string, status model.Status, reason string) (model.Submission, error)

	// AttachResult stores the review result and marks the submission
	// completed in one step.
	AttachResult(ctx context.Context, id string, result model.ReviewResult) (model.Submission, error)

	// Delete removes a submission. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Count returns the number of submissions tracked.
	Count(ctx context.Context) int
}
