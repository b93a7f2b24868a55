package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client  *http.Client
	timeout time.Duration
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}
}

// Get performs a GET request
func (c *HTTPClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Post performs a POST request with JSON body
func (c *HTTPClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	jsonData, err := marshalJSON(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// marshalJSON marshals a struct to JSON
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// unmarshalJSON unmarshals JSON to a struct
func unmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// submitOutcome is the client-side classification of one submission.
type submitOutcome struct {
	tag string // accepted, cached, throttled, failed
	id  string
}

// sendSubmissions posts submissions concurrently using a worker pool
// and returns the ids of submissions accepted for review.
func sendSubmissions(ctx context.Context, config *Config, subs []Submission, stats *Stats) ([]string, error) {
	log.Printf("submitting %d reviews with %d workers...", len(subs), config.Workers)

	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/reviews"

	// Counters for statistics
	var (
		accepted  int64
		cached    int64
		throttled int64
		failed    int64
		sent      int64
	)

	var (
		idMu        sync.Mutex
		acceptedIDs []string
	)

	// Progress reporting
	var lastReport time.Time
	reportInterval := 1 * time.Second

	// Create worker pool
	subChan := make(chan Submission, config.Workers*WorkerChannelMultiplier)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for sub := range subChan {
				select {
				case <-ctx.Done():
					return
				default:
					outcome := submitSingle(ctx, client, url, sub)

					// Update counters
					atomic.AddInt64(&sent, 1)
					switch outcome.tag {
					case "accepted":
						atomic.AddInt64(&accepted, 1)
						idMu.Lock()
						acceptedIDs = append(acceptedIDs, outcome.id)
						idMu.Unlock()
					case "cached":
						atomic.AddInt64(&cached, 1)
					case "throttled":
						atomic.AddInt64(&throttled, 1)
					case "failed":
						atomic.AddInt64(&failed, 1)
					}

					// Progress reporting
					if time.Since(lastReport) >= reportInterval {
						lastReport = time.Now()
						total := atomic.LoadInt64(&sent)
						acc := atomic.LoadInt64(&accepted)
						hit := atomic.LoadInt64(&cached)
						thr := atomic.LoadInt64(&throttled)
						fail := atomic.LoadInt64(&failed)

						if config.Verbose {
							log.Printf("progress: %d/%d sent (accepted: %d, cached: %d, throttled: %d, failed: %d)",
								total, len(subs), acc, hit, thr, fail)
						} else {
							fmt.Printf("\rsent: %d/%d (accepted: %d, cached: %d, throttled: %d, failed: %d)",
								total, len(subs), acc, hit, thr, fail)
						}
					}
				}
			}
		}(i)
	}

	// Send submissions to workers
	go func() {
		defer close(subChan)
		for _, sub := range subs {
			select {
			case <-ctx.Done():
				return
			case subChan <- sub:
			}
		}
	}()

	// Wait for all workers to complete
	wg.Wait()

	// Final progress report
	if !config.Verbose {
		fmt.Println() // New line after progress indicator
	}

	// Update stats
	stats.SubmissionsSent = int(atomic.LoadInt64(&sent))
	stats.SubmissionsAccepted = int(atomic.LoadInt64(&accepted))
	stats.SubmissionsCached = int(atomic.LoadInt64(&cached))
	stats.SubmissionsThrottled = int(atomic.LoadInt64(&throttled))
	stats.SubmissionsFailed = int(atomic.LoadInt64(&failed))

	log.Printf(`submission completed:
   Accepted: %d
   Cached: %d
   Throttled: %d
   Failed: %d
`, stats.SubmissionsAccepted, stats.SubmissionsCached, stats.SubmissionsThrottled, stats.SubmissionsFailed)

	return acceptedIDs, nil
}

// submitSingle submits one review and classifies the response.
func submitSingle(ctx context.Context, client *HTTPClient, url string, sub Submission) submitOutcome {
	resp, err := client.Post(ctx, url, sub)
	if err != nil {
		return submitOutcome{tag: "failed"}
	}

	// Read response body
	body, err := readResponseBody(resp)
	if err != nil {
		return submitOutcome{tag: "failed"}
	}

	switch resp.StatusCode {
	case StatusAccepted:
		var review ReviewResponse
		if err := unmarshalJSON(body, &review); err != nil || review.ID == "" {
			return submitOutcome{tag: "failed"}
		}
		if review.Cached {
			// Served straight from the result cache, already terminal
			return submitOutcome{tag: "cached", id: review.ID}
		}
		// Accepted for asynchronous review
		return submitOutcome{tag: "accepted", id: review.ID}
	case StatusTooManyRequests:
		// Rate limited or queue backpressure
		return submitOutcome{tag: "throttled"}
	default:
		// Error
		return submitOutcome{tag: "failed"}
	}
}
