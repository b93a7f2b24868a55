package loadtest

import (
	"time"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
)

// Config holds configuration for the review load test
type Config struct {
	BaseURL          string        // Base URL of the service
	NumSubmissions   int           // Number of submissions to generate
	DuplicatePercent int           // Percentage of submissions reusing earlier code
	Workers          int           // Number of concurrent workers
	Timeout          time.Duration // HTTP request timeout
	PollTimeout      time.Duration // How long to wait for reviews to finish
	OutputFile       string        // Output file for submissions
	LogFile          string        // Log file for test output
	Verbose          bool          // Enable verbose logging
}

// Submission is the request body for one review
type Submission struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// ReviewResponse mirrors the API's submission payload
type ReviewResponse struct {
	ID       string              `json:"id"`
	Language string              `json:"language"`
	Status   model.Status        `json:"status"`
	Error    string              `json:"error,omitempty"`
	Result   *model.ReviewResult `json:"result,omitempty"`
	Cached   bool                `json:"cached,omitempty"`
}

// ListResponse mirrors the API's list payload
type ListResponse struct {
	Submissions []ReviewResponse `json:"submissions"`
	Total       int              `json:"total"`
	Offset      int              `json:"offset"`
	Limit       int              `json:"limit"`
}

// Stats holds test statistics
type Stats struct {
	SubmissionsGenerated int
	SubmissionsSent      int
	SubmissionsAccepted  int
	SubmissionsCached    int
	SubmissionsThrottled int
	SubmissionsFailed    int
	ReviewsCompleted     int
	ReviewsFailed        int
	ReviewsTimedOut      int
	ListedTotal          int
	StartTime            time.Time
	EndTime              time.Time
	Duration             time.Duration
}
