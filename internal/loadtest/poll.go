package loadtest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// waitForReviews polls every accepted submission until it reaches a
// terminal status or the poll deadline passes.
func waitForReviews(ctx context.Context, config *Config, ids []string, stats *Stats) ([]ReviewResponse, error) {
	log.Printf("waiting for %d reviews with %d workers...", len(ids), config.Workers)

	client := newHTTPClient(config.Timeout)
	deadline := time.Now().Add(config.PollTimeout)

	// Results storage
	results := make([]ReviewResponse, len(ids))
	var (
		completed int64
		failed    int64
		timedOut  int64
	)

	// Progress reporting
	var lastReport time.Time
	reportInterval := 1 * time.Second

	// Create worker pool
	idChan := make(chan int, config.Workers*WorkerChannelMultiplier) // Send indices instead of IDs
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for index := range idChan {
				select {
				case <-ctx.Done():
					return
				default:
					id := ids[index]
					review, err := pollSingleReview(ctx, client, config.BaseURL, id, deadline)

					switch {
					case err != nil:
						atomic.AddInt64(&timedOut, 1)
						if config.Verbose {
							log.Printf("review %s did not finish: %v", id, err)
						}
					case review.Status == "failed":
						results[index] = review
						atomic.AddInt64(&failed, 1)
					default:
						results[index] = review
						atomic.AddInt64(&completed, 1)
					}

					// Progress reporting
					if time.Since(lastReport) >= reportInterval {
						lastReport = time.Now()
						done := atomic.LoadInt64(&completed)
						fail := atomic.LoadInt64(&failed)
						out := atomic.LoadInt64(&timedOut)
						total := done + fail + out

						log.Printf("reviews: %d/%d finished (completed: %d, failed: %d, timed out: %d)",
							total, len(ids), done, fail, out)
					}
				}
			}
		}(i)
	}

	// Send indices to workers
	go func() {
		defer close(idChan)
		for i := range ids {
			select {
			case <-ctx.Done():
				return
			case idChan <- i:
			}
		}
	}()

	// Wait for all workers to complete
	wg.Wait()

	// Filter out empty entries (timed-out reviews)
	finished := make([]ReviewResponse, 0, len(results))
	for _, review := range results {
		if review.ID != "" {
			finished = append(finished, review)
		}
	}

	// Update stats
	stats.ReviewsCompleted = int(atomic.LoadInt64(&completed))
	stats.ReviewsFailed = int(atomic.LoadInt64(&failed))
	stats.ReviewsTimedOut = int(atomic.LoadInt64(&timedOut))

	log.Printf(`review polling completed:
   Completed: %d
   Failed: %d
   Timed out: %d
`, stats.ReviewsCompleted, stats.ReviewsFailed, stats.ReviewsTimedOut)

	return finished, nil
}

// pollSingleReview fetches one submission until it turns terminal.
func pollSingleReview(ctx context.Context, client *HTTPClient, baseURL, id string, deadline time.Time) (ReviewResponse, error) {
	url := fmt.Sprintf("%s/reviews/%s", baseURL, id)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ReviewResponse{}, ctx.Err()
		default:
		}

		resp, err := client.Get(ctx, url)
		if err != nil {
			return ReviewResponse{}, fmt.Errorf("request failed: %w", err)
		}

		body, err := readResponseBody(resp)
		if err != nil {
			return ReviewResponse{}, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != StatusOK {
			return ReviewResponse{}, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}

		var review ReviewResponse
		if err := unmarshalJSON(body, &review); err != nil {
			return ReviewResponse{}, fmt.Errorf("failed to parse response: %w", err)
		}

		if review.Status.IsTerminal() {
			return review, nil
		}

		time.Sleep(PollInterval)
	}

	return ReviewResponse{}, fmt.Errorf("review %s still pending at deadline", id)
}

// fetchList retrieves one page of submissions to check list totals.
func fetchList(ctx context.Context, config *Config, stats *Stats) (*ListResponse, error) {
	log.Printf("fetching submission listing...")

	client := newHTTPClient(config.Timeout)
	url := fmt.Sprintf("%s/reviews?limit=%d", config.BaseURL, 100)

	resp, err := client.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	body, err := readResponseBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var list ListResponse
	if err := unmarshalJSON(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	stats.ListedTotal = list.Total
	log.Printf("listing reports %d submissions total", list.Total)

	return &list, nil
}
