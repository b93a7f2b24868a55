package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	service "github.com/reviewd-dev/reviewd/internal/app"
	"github.com/reviewd-dev/reviewd/internal/domain/model"
	"github.com/reviewd-dev/reviewd/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

// counterValue sums a counter family from the shared metrics registry.
func counterValue(name string) float64 {
	families, err := metrics.GetRegistry().Gather()
	if err != nil {
		return -1
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

// stubEngine returns a fixed well-formed review payload.
type stubEngine struct{}

func (stubEngine) Review(_ context.Context, _, _ string) ([]byte, error) {
	payload := map[string]any{
		"score":   7,
		"summary": "looks fine",
		"issues":  []any{},
	}
	return json.Marshal(payload)
}

// gatedEngine blocks every review until the gate channel is closed.
type gatedEngine struct {
	gate chan struct{}
}

func (e *gatedEngine) Review(ctx context.Context, _, _ string) ([]byte, error) {
	select {
	case <-e.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return stubEngine{}.Review(ctx, "", "")
}

func waitForTerminal(ctx context.Context, svc *service.Service, id string) (model.Submission, error) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		sub, err := svc.Submission(ctx, id)
		if err != nil {
			return model.Submission{}, err
		}
		if sub.Status.IsTerminal() {
			return sub, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return model.Submission{}, fmt.Errorf("submission %s never reached a terminal status", id)
}

func TestServiceIntegration(t *testing.T) {
	Convey("Given a started service with a stub engine", t, func() {
		svc := service.New(
			service.WithWorkerCount(2),
			service.WithQueueSize(1000),
			service.WithRateLimit(1000, time.Hour),
			service.WithReviewer(stubEngine{}),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Shutdown(ctx) }()

		Convey("When submitting a review end-to-end", func() {
			r, err := svc.Submit(ctx, "go", "package main\n\nfunc main() {}\n", "client-1")
			So(err, ShouldBeNil)
			So(r.Allowed, ShouldBeTrue)
			So(r.Enqueued, ShouldBeTrue)
			So(r.Cached, ShouldBeFalse)
			So(r.Submission.Status, ShouldEqual, model.StatusPending)

			sub, err := waitForTerminal(ctx, svc, r.Submission.ID)

			Convey("Then the submission should complete with a result", func() {
				So(err, ShouldBeNil)
				So(sub.Status, ShouldEqual, model.StatusCompleted)
				So(sub.Result, ShouldNotBeNil)
				So(sub.Result.Score, ShouldEqual, 7)
				So(sub.Error, ShouldBeEmpty)
			})
		})

		Convey("When submitting the same code twice", func() {
			code := "def add(a, b):\n    return a + b\n"
			first, err := svc.Submit(ctx, "python", code, "client-2")
			So(err, ShouldBeNil)
			_, err = waitForTerminal(ctx, svc, first.Submission.ID)
			So(err, ShouldBeNil)

			// The cache write trails the status flip, so retry briefly.
			var second service.SubmitResult
			deadline := time.Now().Add(5 * time.Second)
			for time.Now().Before(deadline) {
				second, err = svc.Submit(ctx, "python", code, "client-3")
				So(err, ShouldBeNil)
				if second.Cached {
					break
				}
				_, err = waitForTerminal(ctx, svc, second.Submission.ID)
				So(err, ShouldBeNil)
				time.Sleep(20 * time.Millisecond)
			}

			Convey("Then the repeat submission should be served from cache", func() {
				So(second.Cached, ShouldBeTrue)
				So(second.Submission.Status, ShouldEqual, model.StatusCompleted)
				So(second.Submission.Result, ShouldNotBeNil)
			})
		})

		Convey("When listing and removing submissions", func() {
			r, err := svc.Submit(ctx, "go", "package listing\n", "client-4")
			So(err, ShouldBeNil)
			_, err = waitForTerminal(ctx, svc, r.Submission.ID)
			So(err, ShouldBeNil)

			page, err := svc.Submissions(ctx, service.Filter{Language: "go"})
			So(err, ShouldBeNil)
			So(page.Total, ShouldBeGreaterThanOrEqualTo, 1)

			Convey("Then removal should make the submission unreadable", func() {
				So(svc.Remove(ctx, r.Submission.ID), ShouldBeNil)
				_, err := svc.Submission(ctx, r.Submission.ID)
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When watching a submission", func() {
			sub, err := svc.Watch(ctx, "some-id")

			Convey("Then a subscription should be handed out", func() {
				So(err, ShouldBeNil)
				So(sub, ShouldNotBeNil)
				sub.Close()
			})
		})
	})
}

func TestServiceRateLimiting(t *testing.T) {
	Convey("Given a service with a quota of two submissions", t, func() {
		svc := service.New(
			service.WithWorkerCount(1),
			service.WithRateLimit(2, time.Hour),
			service.WithReviewer(stubEngine{}),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() { _ = svc.Shutdown(ctx) }()

		Convey("When one client exceeds the quota", func() {
			for i := 0; i < 2; i++ {
				r, err := svc.Submit(ctx, "go", fmt.Sprintf("package p%d\n", i), "greedy")
				So(err, ShouldBeNil)
				So(r.Allowed, ShouldBeTrue)
			}

			denied, err := svc.Submit(ctx, "go", "package p2\n", "greedy")
			So(err, ShouldBeNil)

			Convey("Then the third submission should be denied", func() {
				So(denied.Allowed, ShouldBeFalse)
				So(denied.Decision.Limit, ShouldEqual, 2)
				So(denied.Decision.Count, ShouldBeGreaterThan, 2)
			})

			Convey("And another client should still be admitted", func() {
				r, err := svc.Submit(ctx, "go", "package q\n", "patient")
				So(err, ShouldBeNil)
				So(r.Allowed, ShouldBeTrue)
			})
		})
	})
}

func TestServiceBackpressure(t *testing.T) {
	Convey("Given a single worker stuck on a review and a tiny queue", t, func() {
		eng := &gatedEngine{gate: make(chan struct{})}
		svc := service.New(
			service.WithWorkerCount(1),
			service.WithQueueSize(1),
			service.WithRateLimit(1000, time.Hour),
			service.WithReviewer(eng),
		)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		So(svc.Start(ctx), ShouldBeNil)
		defer func() {
			close(eng.gate)
			_ = svc.Shutdown(ctx)
		}()

		Convey("When submissions outpace the queue", func() {
			enqueuesBefore := counterValue("reviewd_review_queue_enqueue_total")
			errorsBefore := counterValue("reviewd_review_queue_enqueue_errors_total")
			rejected := 0
			enqueued := 0
			for i := 0; i < 4; i++ {
				r, err := svc.Submit(ctx, "go", fmt.Sprintf("package bp%d\n", i), "flooder")
				So(err, ShouldBeNil)
				So(r.Allowed, ShouldBeTrue)
				if !r.Enqueued && !r.Cached {
					rejected++
					// A rejected submission must not linger in the store.
					_, err := svc.Submission(ctx, r.Submission.ID)
					So(err, ShouldNotBeNil)
				} else {
					enqueued++
				}
			}

			Convey("Then at least one submission should be rejected", func() {
				So(rejected, ShouldBeGreaterThanOrEqualTo, 1)
			})

			Convey("And each outcome should be counted exactly once", func() {
				So(counterValue("reviewd_review_queue_enqueue_total")-enqueuesBefore, ShouldEqual, float64(enqueued))
				So(counterValue("reviewd_review_queue_enqueue_errors_total")-errorsBefore, ShouldEqual, float64(rejected))
			})
		})
	})
}
