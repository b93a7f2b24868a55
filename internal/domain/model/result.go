package model

// Score bounds for a completed review.
const (
	MinScore = 1
	MaxScore = 10
)

// Severity classifies how serious an issue is.
type Severity string

// Known severity values. Anything else coerces to SeverityOther.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityOther    Severity = "other"
)

// Category groups issues by concern.
type Category string

// Known category values. Anything else coerces to CategoryOther.
const (
	CategoryStyle       Category = "style"
	CategoryBug         Category = "bug"
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryOther       Category = "other"
)

// Issue is a single finding reported by the review engine.
type Issue struct {
	Title    string   `json:"title"`
	Detail   string   `json:"detail"`
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
}

// ReviewResult is the terminal output of a review. Written exactly once
// by the worker pool when the submission reaches a terminal state, and
// immutable thereafter.
type ReviewResult struct {
	Score       int      `json:"score"`
	Issues      []Issue  `json:"issues"`
	Security    []Issue  `json:"security"`
	Performance []Issue  `json:"performance"`
	Suggestions []string `json:"suggestions"`
	Error       string   `json:"error,omitempty"`
}

// CoerceSeverity maps unknown severities to SeverityOther rather than
// rejecting them; the upstream engine output is semi-structured.
func CoerceSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s)
	}
	return SeverityOther
}

// CoerceCategory maps unknown categories to CategoryOther.
func CoerceCategory(c string) Category {
	switch Category(c) {
	case CategoryStyle, CategoryBug, CategorySecurity, CategoryPerformance:
		return Category(c)
	}
	return CategoryOther
}

// ClampScore forces a score into the valid [MinScore, MaxScore] range.
func ClampScore(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
