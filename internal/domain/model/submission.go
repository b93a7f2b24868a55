// Package model contains domain models passed between layers.
package model

import "time"

// Status tracks a submission through the review pipeline.
type Status string

// Status values form a strict progression:
// pending -> in_progress -> {completed | failed}.
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the progression s -> next is allowed.
// Terminal states accept no transitions; states never regress.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusCompleted || next == StatusFailed
	case StatusInProgress:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Submission represents one code-review request and its evolving state.
// Created by the intake gateway; status and timestamps are mutated only
// by the worker pool.
type Submission struct {
	ID        string        `json:"id"`
	Language  string        `json:"language"`
	Code      string        `json:"-"` // source text is never echoed back
	CodeHash  string        `json:"-"`
	Status    Status        `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Error     string        `json:"error,omitempty"`
	Result    *ReviewResult `json:"-"`
}

// Task is the unit of work carried by the queue. Attempt counts
// redeliveries, not engine retries (those happen inside the worker).
type Task struct {
	SubmissionID string `json:"submission_id"`
	Attempt      int    `json:"attempt"`
}
