package loadtest

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
)

// verifyResults checks the finished reviews for contract violations.
func verifyResults(ctx context.Context, config *Config, reviews []ReviewResponse, stats *Stats) error {
	log.Println("verifying results...")

	if len(reviews) == 0 {
		return fmt.Errorf("no finished reviews to verify")
	}

	violations := 0
	for _, review := range reviews {
		switch review.Status {
		case model.StatusCompleted:
			if review.Result == nil {
				log.Printf("violation: completed review %s has no result", review.ID)
				violations++
				continue
			}
			if review.Result.Score < model.MinScore || review.Result.Score > model.MaxScore {
				log.Printf("violation: review %s score %d outside [%d, %d]",
					review.ID, review.Result.Score, model.MinScore, model.MaxScore)
				violations++
			}
		case model.StatusFailed:
			if review.Error == "" {
				log.Printf("violation: failed review %s carries no reason", review.ID)
				violations++
			}
		default:
			log.Printf("violation: review %s finished with non-terminal status %s", review.ID, review.Status)
			violations++
		}
	}

	if violations > 0 {
		return fmt.Errorf("found %d contract violations", violations)
	}

	displayScoreDistribution(reviews, config.Verbose)

	log.Println("result verification completed")
	return nil
}

// displayScoreDistribution summarizes the scores of completed reviews.
func displayScoreDistribution(reviews []ReviewResponse, verbose bool) {
	scores := make([]int, 0, len(reviews))
	issueCount := 0
	for _, review := range reviews {
		if review.Status == model.StatusCompleted && review.Result != nil {
			scores = append(scores, review.Result.Score)
			issueCount += len(review.Result.Issues) + len(review.Result.Security) + len(review.Result.Performance)
		}
	}
	if len(scores) == 0 {
		return
	}

	sort.Ints(scores)
	sum := 0
	for _, s := range scores {
		sum += s
	}

	log.Printf(`score statistics:
   Reviews: %d
   Average: %.2f
   Minimum: %d
   Maximum: %d
   Issues reported: %d
`, len(scores), float64(sum)/float64(len(scores)), scores[0], scores[len(scores)-1], issueCount)

	if verbose {
		// Histogram over the full score range
		buckets := make(map[int]int)
		for _, s := range scores {
			buckets[s]++
		}
		for s := model.MinScore; s <= model.MaxScore; s++ {
			if buckets[s] > 0 {
				log.Printf("   score %2d: %d", s, buckets[s])
			}
		}
	}
}
