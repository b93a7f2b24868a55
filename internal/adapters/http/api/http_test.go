package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/reviewd-dev/reviewd/internal/adapters/http/api"
	repository "github.com/reviewd-dev/reviewd/internal/adapters/repository"
	"github.com/reviewd-dev/reviewd/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockSubscription struct {
	ch chan model.StatusEvent
}

func (s *mockSubscription) Events() <-chan model.StatusEvent { return s.ch }
func (s *mockSubscription) Close()                           {}

type mockDependencies struct {
	submitResult api.SubmitResult
	submitErr    error
	submitted    []string
	subs         map[string]model.Submission
	listPage     api.Page
	listErr      error
	lastFilter   api.Filter
	watchCh      chan model.StatusEvent
	removed      []string
}

func newMockDependencies() *mockDependencies {
	return &mockDependencies{
		subs:    make(map[string]model.Submission),
		watchCh: make(chan model.StatusEvent, 16),
	}
}

func (m *mockDependencies) Submit(ctx context.Context, language, code, clientID string) (api.SubmitResult, error) {
	m.submitted = append(m.submitted, clientID)
	return m.submitResult, m.submitErr
}

func (m *mockDependencies) Submission(ctx context.Context, id string) (model.Submission, error) {
	sub, ok := m.subs[id]
	if !ok {
		return model.Submission{}, repository.ErrNotFound
	}
	return sub, nil
}

func (m *mockDependencies) Submissions(ctx context.Context, f api.Filter) (api.Page, error) {
	if m.listErr != nil {
		return api.Page{}, m.listErr
	}
	m.lastFilter = f
	return m.listPage, nil
}

func (m *mockDependencies) Remove(ctx context.Context, id string) error {
	if _, ok := m.subs[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.subs, id)
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockDependencies) Watch(ctx context.Context, id string) (api.Subscription, error) {
	return &mockSubscription{ch: m.watchCh}, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func newTestServer(deps *mockDependencies, opts ...api.ServerOption) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"workers": 4}}, opts...)
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return mux
}

func postReview(mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/reviews", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		deps := newMockDependencies()
		mux := newTestServer(deps)

		Convey("When registering routes", func() {
			Convey("Then the health endpoint should be accessible", func() {
				req := httptest.NewRequest("GET", "/healthz", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusOK)
			})

			Convey("And the stats endpoint should be accessible", func() {
				req := httptest.NewRequest("GET", "/stats", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, "workers")
			})
		})
	})
}

// plainWriter implements http.ResponseWriter without http.Flusher.
type plainWriter struct {
	header http.Header
	code   int
}

func (w *plainWriter) Header() http.Header         { return w.header }
func (w *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (w *plainWriter) WriteHeader(code int)        { w.code = code }

func TestMetricsMiddleware_Streaming(t *testing.T) {
	Convey("Given a streaming handler behind the metrics middleware", t, func() {
		var sawFlusher bool
		handler := api.MetricsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			f, ok := w.(http.Flusher)
			sawFlusher = ok
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, ": ping\n\n")
			if ok {
				f.Flush()
			}
		}, "stream")

		Convey("When the underlying writer supports flushing", func() {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("GET", "/reviews/sub-1/stream", nil))

			Convey("Then flushes pass through the wrapper", func() {
				So(sawFlusher, ShouldBeTrue)
				So(w.Flushed, ShouldBeTrue)
			})
		})

		Convey("When the underlying writer cannot flush", func() {
			w := &plainWriter{header: make(http.Header)}

			Convey("Then flushing is a harmless no-op", func() {
				So(func() {
					handler.ServeHTTP(w, httptest.NewRequest("GET", "/reviews/sub-1/stream", nil))
				}, ShouldNotPanic)
				So(w.code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestReviewsIntake(t *testing.T) {
	Convey("Given the intake endpoint", t, func() {
		deps := newMockDependencies()
		accepted := model.Submission{
			ID:        "sub-1",
			Language:  "go",
			Status:    model.StatusPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		deps.submitResult = api.SubmitResult{
			Submission: accepted,
			Allowed:    true,
			Enqueued:   true,
			Decision:   api.Decision{Allowed: true, Count: 1, Limit: 10, Reset: time.Now().Add(time.Hour)},
		}
		mux := newTestServer(deps)

		Convey("When posting a valid submission", func() {
			w := postReview(mux, `{"language": "go", "code": "package main"}`)

			Convey("Then it should be accepted", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				So(w.Header().Get("Location"), ShouldEqual, "/reviews/sub-1")

				var resp map[string]interface{}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["id"], ShouldEqual, "sub-1")
				So(resp["status"], ShouldEqual, "pending")
			})

			Convey("And quota headers should be set", func() {
				So(w.Header().Get("X-RateLimit-Limit"), ShouldEqual, "10")
				So(w.Header().Get("X-RateLimit-Remaining"), ShouldEqual, "9")
			})
		})

		Convey("When the result is already cached", func() {
			done := accepted
			done.Status = model.StatusCompleted
			done.Result = &model.ReviewResult{Score: 7}
			deps.submitResult = api.SubmitResult{
				Submission: done,
				Cached:     true,
				Allowed:    true,
				Decision:   api.Decision{Allowed: true, Count: 1, Limit: 10},
			}

			w := postReview(mux, `{"language": "go", "code": "package main"}`)

			Convey("Then it returns the completed submission immediately", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)

				var resp map[string]interface{}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["status"], ShouldEqual, "completed")
				So(resp["cached"], ShouldEqual, true)
				So(resp["result"], ShouldNotBeNil)
			})
		})

		Convey("When the client is over quota", func() {
			deps.submitResult = api.SubmitResult{
				Allowed:  false,
				Decision: api.Decision{Allowed: false, Count: 11, Limit: 10, Reset: time.Now().Add(30 * time.Minute)},
			}

			w := postReview(mux, `{"language": "go", "code": "package main"}`)

			Convey("Then it should be rejected with 429", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w.Body.String(), ShouldContainSubstring, "rate_limited")
				So(w.Header().Get("Retry-After"), ShouldNotBeEmpty)
				So(w.Header().Get("X-RateLimit-Remaining"), ShouldEqual, "0")
			})
		})

		Convey("When the queue is full", func() {
			deps.submitResult = api.SubmitResult{
				Submission: accepted,
				Allowed:    true,
				Enqueued:   false,
				Decision:   api.Decision{Allowed: true, Count: 2, Limit: 10},
			}

			w := postReview(mux, `{"language": "go", "code": "package main"}`)

			Convey("Then it should report backpressure with 429", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w.Body.String(), ShouldContainSubstring, "backpressure")
			})
		})

		Convey("When posting malformed JSON", func() {
			w := postReview(mux, `{"language": `)

			Convey("Then it should be rejected with 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When posting an incomplete request", func() {
			for _, body := range []string{
				`{"code": "package main"}`,
				`{"language": "go"}`,
				`{"language": "  ", "code": "x"}`,
			} {
				w := postReview(mux, body)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("When posting oversized code", func() {
			small := newTestServer(deps, api.WithMaxCodeBytes(10))
			w := postReview(small, `{"language": "go", "code": "package main; much longer than ten bytes"}`)

			Convey("Then it should be rejected with 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When using an unsupported method", func() {
			req := httptest.NewRequest("PUT", "/reviews", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestReviewsRead(t *testing.T) {
	Convey("Given the read endpoints", t, func() {
		deps := newMockDependencies()
		deps.subs["sub-1"] = model.Submission{
			ID:       "sub-1",
			Language: "go",
			Status:   model.StatusCompleted,
			Result:   &model.ReviewResult{Score: 9, Suggestions: []string{"ok"}},
		}
		mux := newTestServer(deps)

		Convey("When fetching an existing submission", func() {
			req := httptest.NewRequest("GET", "/reviews/sub-1", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then it returns the submission with its result", func() {
				So(w.Code, ShouldEqual, http.StatusOK)

				var resp map[string]interface{}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["id"], ShouldEqual, "sub-1")
				So(resp["result"], ShouldNotBeNil)
			})
		})

		Convey("When fetching an unknown submission", func() {
			req := httptest.NewRequest("GET", "/reviews/ghost", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When deleting a submission", func() {
			req := httptest.NewRequest("DELETE", "/reviews/sub-1", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then it is removed", func() {
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(deps.removed, ShouldResemble, []string{"sub-1"})
			})
		})

		Convey("When listing submissions", func() {
			deps.listPage = api.Page{
				Submissions: []model.Submission{
					{ID: "sub-2", Language: "go", Status: model.StatusPending},
					{ID: "sub-1", Language: "go", Status: model.StatusCompleted},
				},
				Total: 2,
			}

			req := httptest.NewRequest("GET", "/reviews?limit=10", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then it returns a page with totals", func() {
				So(w.Code, ShouldEqual, http.StatusOK)

				var resp map[string]interface{}
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["total"], ShouldEqual, 2)
				So(resp["submissions"], ShouldHaveLength, 2)
			})
		})

		Convey("When listing with score bounds", func() {
			req := httptest.NewRequest("GET", "/reviews?min_score=4&max_score=8", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then the bounds reach the repository filter", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.lastFilter.MinScore, ShouldEqual, 4)
				So(deps.lastFilter.MaxScore, ShouldEqual, 8)
			})
		})

		Convey("When listing with invalid parameters", func() {
			for _, target := range []string{
				"/reviews?status=bogus",
				"/reviews?limit=nope",
				"/reviews?limit=0",
				"/reviews?offset=-1",
				"/reviews?min_score=0",
				"/reviews?max_score=11",
				"/reviews?min_score=junk",
				"/reviews?min_score=8&max_score=3",
				fmt.Sprintf("/reviews?limit=%d", 100000),
			} {
				req := httptest.NewRequest("GET", target, nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
		})
	})
}

func TestStream(t *testing.T) {
	Convey("Given the stream endpoint", t, func() {
		deps := newMockDependencies()
		mux := newTestServer(deps)

		Convey("When streaming a submission that is already terminal", func() {
			deps.subs["sub-1"] = model.Submission{
				ID:     "sub-1",
				Status: model.StatusCompleted,
				Result: &model.ReviewResult{Score: 8},
			}

			req := httptest.NewRequest("GET", "/reviews/sub-1/stream", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then it replays the state and closes", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldEqual, "text/event-stream")
				body := w.Body.String()
				So(body, ShouldContainSubstring, "event: status")
				So(body, ShouldContainSubstring, `"status":"completed"`)
				So(body, ShouldContainSubstring, "event: done")
			})
		})

		Convey("When events arrive for an in-flight submission", func() {
			deps.subs["sub-2"] = model.Submission{
				ID:     "sub-2",
				Status: model.StatusPending,
			}
			// Queued before the request: delivered after the snapshot.
			deps.watchCh <- model.StatusEvent{SubmissionID: "sub-2", Status: model.StatusInProgress}
			deps.watchCh <- model.StatusEvent{
				SubmissionID: "sub-2",
				Status:       model.StatusCompleted,
				DurationMS:   120,
				Result:       &model.ReviewResult{Score: 6},
			}

			req := httptest.NewRequest("GET", "/reviews/sub-2/stream", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then the client sees the full progression", func() {
				body := w.Body.String()
				So(body, ShouldContainSubstring, `"status":"pending"`)
				So(body, ShouldContainSubstring, `"status":"in_progress"`)
				So(body, ShouldContainSubstring, `"status":"completed"`)
				So(body, ShouldContainSubstring, `"duration_ms":120`)
				So(body, ShouldContainSubstring, "event: done")
			})
		})

		Convey("When duplicate events are delivered", func() {
			deps.subs["sub-3"] = model.Submission{
				ID:     "sub-3",
				Status: model.StatusInProgress,
			}
			// The first in_progress duplicates the snapshot.
			deps.watchCh <- model.StatusEvent{SubmissionID: "sub-3", Status: model.StatusInProgress}
			deps.watchCh <- model.StatusEvent{SubmissionID: "sub-3", Status: model.StatusFailed, Error: "engine unavailable"}

			req := httptest.NewRequest("GET", "/reviews/sub-3/stream", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then the duplicate is discarded", func() {
				body := w.Body.String()
				So(strings.Count(body, `"status":"in_progress"`), ShouldEqual, 1)
				So(body, ShouldContainSubstring, `"status":"failed"`)
				So(body, ShouldContainSubstring, "engine unavailable")
			})
		})

		Convey("When the client requests a short keepalive", func() {
			deps.subs["sub-4"] = model.Submission{ID: "sub-4", Status: model.StatusPending}
			go func() {
				time.Sleep(60 * time.Millisecond)
				deps.watchCh <- model.StatusEvent{
					SubmissionID: "sub-4",
					Status:       model.StatusCompleted,
					Result:       &model.ReviewResult{Score: 5},
				}
			}()

			req := httptest.NewRequest("GET", "/reviews/sub-4/stream?ping=5", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)

			Convey("Then ping comments keep the stream alive until done", func() {
				body := w.Body.String()
				So(body, ShouldContainSubstring, ": ping")
				So(body, ShouldContainSubstring, "event: done")
			})
		})

		Convey("When the client disables the keepalive", func() {
			pingMux := newTestServer(deps, api.WithPingInterval(5*time.Millisecond))
			deps.subs["sub-5"] = model.Submission{ID: "sub-5", Status: model.StatusPending}
			go func() {
				time.Sleep(60 * time.Millisecond)
				deps.watchCh <- model.StatusEvent{
					SubmissionID: "sub-5",
					Status:       model.StatusFailed,
					Error:        "engine unavailable",
				}
			}()

			req := httptest.NewRequest("GET", "/reviews/sub-5/stream?ping=0", nil)
			w := httptest.NewRecorder()
			pingMux.ServeHTTP(w, req)

			Convey("Then no ping comments are written", func() {
				body := w.Body.String()
				So(body, ShouldNotContainSubstring, ": ping")
				So(body, ShouldContainSubstring, "event: done")
			})
		})

		Convey("When streaming an unknown submission", func() {
			req := httptest.NewRequest("GET", "/reviews/ghost/stream", nil)
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
