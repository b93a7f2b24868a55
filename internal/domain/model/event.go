package model

// StatusEvent is the ephemeral message published on each status
// transition. It is not persisted beyond delivery; ordering is only
// meaningful within a single submission's topic.
type StatusEvent struct {
	SubmissionID string        `json:"submission_id"`
	Status       Status        `json:"status"`
	DurationMS   int64         `json:"duration_ms,omitempty"`
	Error        string        `json:"error,omitempty"`
	Result       *ReviewResult `json:"result,omitempty"`
}

// Terminal reports whether the event carries a terminal status.
func (e StatusEvent) Terminal() bool {
	return e.Status.IsTerminal()
}
