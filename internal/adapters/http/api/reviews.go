// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/reviewd-dev/reviewd/internal/adapters/ratelimit"
	"github.com/reviewd-dev/reviewd/internal/domain/model"
)

// Default handler configuration constants.
const (
	defaultMaxCodeBytes = 1 << 20 // 1 MiB of source text
	defaultMaxPageSize  = 100
	defaultPageSize     = 20
)

// ReviewsHandler handles submission intake and read requests.
type ReviewsHandler struct {
	deps         Dependencies
	maxCodeBytes int
	maxPageSize  int
	trustProxy   bool
}

// NewReviewsHandler creates a new reviews handler.
func NewReviewsHandler(deps Dependencies, maxCodeBytes, maxPageSize int, trustProxy bool) *ReviewsHandler {
	return &ReviewsHandler{
		deps:         deps,
		maxCodeBytes: maxCodeBytes,
		maxPageSize:  maxPageSize,
		trustProxy:   trustProxy,
	}
}

// HandleCollection handles POST /reviews and GET /reviews requests.
func (h *ReviewsHandler) HandleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleSubmit(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		http.NotFound(w, r)
	}
}

// handleSubmit runs the intake path: validate, admit, then hand the
// submission to the pipeline.
func (h *ReviewsHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_review"

	r.Body = http.MaxBytesReader(w, r.Body, int64(h.maxCodeBytes)+4096)
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(h.maxCodeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	clientID := ratelimit.ClientIP(r, h.trustProxy)
	res, err := h.deps.Submit(r.Context(), req.Language, req.Code, clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	if res.Decision.Limit > 0 {
		remaining := res.Decision.Limit - res.Decision.Count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Decision.Limit, 10))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	}
	if !res.Allowed {
		retryAfter := int(time.Until(res.Decision.Reset).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate_limited", NewKind(op, ErrRateLimited))
		return
	}
	if !res.Cached && !res.Enqueued {
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}

	w.Header().Set("Location", "/reviews/"+res.Submission.ID)
	writeJSON(w, http.StatusAccepted, toSubmissionResponse(res.Submission, res.Cached))
}

// handleList handles GET /reviews?status=&language=&min_score=&max_score=&offset=&limit=.
func (h *ReviewsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_reviews"

	q := r.URL.Query()
	f := Filter{Limit: defaultPageSize}

	if s := q.Get("status"); s != "" {
		status := model.Status(s)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		f.Status = status
	}
	f.Language = q.Get("language")

	if raw := q.Get("min_score"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < model.MinScore || n > model.MaxScore {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		f.MinScore = n
	}
	if raw := q.Get("max_score"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < model.MinScore || n > model.MaxScore {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		f.MaxScore = n
	}
	if f.MinScore > 0 && f.MaxScore > 0 && f.MinScore > f.MaxScore {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		f.Offset = n
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		if n > h.maxPageSize {
			writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
			return
		}
		f.Limit = n
	}

	page, err := h.deps.Submissions(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	out := listResponse{
		Submissions: make([]submissionResponse, 0, len(page.Submissions)),
		Total:       page.Total,
		Offset:      f.Offset,
		Limit:       f.Limit,
	}
	for _, sub := range page.Submissions {
		out.Submissions = append(out.Submissions, toSubmissionResponse(sub, false))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleItem handles GET and DELETE /reviews/{id} requests.
func (h *ReviewsHandler) HandleItem(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.get_review"

	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	switch r.Method {
	case http.MethodGet:
		sub, err := h.deps.Submission(r.Context(), id)
		if err != nil {
			if isNotFound(err) {
				writeError(w, http.StatusNotFound, "not_found", err)
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
			return
		}
		writeJSON(w, http.StatusOK, toSubmissionResponse(sub, false))
	case http.MethodDelete:
		if err := h.deps.Remove(r.Context(), id); err != nil {
			if isNotFound(err) {
				writeError(w, http.StatusNotFound, "not_found", err)
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}
