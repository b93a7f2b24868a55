// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
	"github.com/reviewd-dev/reviewd/pkg/metrics"
)

// Stream configuration constants.
const (
	defaultPingInterval = 15 * time.Second
	maxPingIntervalMS   = 60000
)

// StreamHandler relays status events to clients over SSE.
type StreamHandler struct {
	deps         Dependencies
	pingInterval time.Duration
	active       atomic.Int64
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(deps Dependencies, pingInterval time.Duration) *StreamHandler {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &StreamHandler{
		deps:         deps,
		pingInterval: pingInterval,
	}
}

// HandleStream handles GET /reviews/{id}/stream requests.
//
// The subscription is opened before the snapshot read so a transition
// landing between the two is delivered rather than lost; the duplicate
// this can produce is discarded by comparing against the last status
// sent.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request, id string) {
	const op = "api.stream_review"

	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", errors.New("response writer does not support streaming"))
		return
	}

	sub, err := h.deps.Watch(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}
	defer sub.Close()

	current, err := h.deps.Submission(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
		return
	}

	ping := h.pingInterval
	if raw := r.URL.Query().Get("ping"); raw != "" {
		if ms, perr := strconv.Atoi(raw); perr == nil && ms >= 0 && ms <= maxPingIntervalMS {
			ping = time.Duration(ms) * time.Millisecond
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.UpdateStreamSubscriberCount(int(h.active.Add(1)))
	defer func() {
		metrics.UpdateStreamSubscriberCount(int(h.active.Add(-1)))
	}()

	send := func(name string, v any) bool {
		data, merr := json.Marshal(v)
		if merr != nil {
			return false
		}
		if _, werr := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); werr != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Snapshot first so the client always sees the current state.
	snapshot := model.StatusEvent{
		SubmissionID: current.ID,
		Status:       current.Status,
		Error:        current.Error,
		Result:       current.Result,
	}
	if !send("status", snapshot) {
		return
	}
	if snapshot.Terminal() {
		send("done", snapshot)
		return
	}
	last := current.Status

	var pingC <-chan time.Time
	if ping > 0 {
		ticker := time.NewTicker(ping)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				send("error", errorResponse{Code: "stream_closed", Message: "event stream closed"})
				return
			}
			if ev.Status == last && !ev.Terminal() {
				// Duplicate of the snapshot state.
				continue
			}
			last = ev.Status
			if !send("status", ev) {
				return
			}
			if ev.Terminal() {
				send("done", ev)
				return
			}
		case <-pingC:
			if _, werr := fmt.Fprint(w, ": ping\n\n"); werr != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ActiveStreams returns the number of open stream connections.
func (h *StreamHandler) ActiveStreams() int {
	return int(h.active.Load())
}
