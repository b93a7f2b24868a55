package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reviewd-dev/reviewd/internal/domain/model"
	"github.com/reviewd-dev/reviewd/pkg/metrics"
)

// In-memory Store implementation.
//
// Ordering: CreatedAt DESC, then ID ASC (deterministic). List sorts a
// snapshot on demand; the map itself is unordered. Write operations are
// serialized by a single mutex, reads copy the record out so callers
// never observe concurrent mutation.

// MemoryStore keeps submissions in a map guarded by a RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]model.Submission
	now  func() time.Time
}

// MemoryOption applies a configuration option to the MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an empty in-memory submission store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		subs: make(map[string]model.Submission),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new submission.
func (s *MemoryStore) Create(_ context.Context, sub model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub.ID]; ok {
		return ErrConflict
	}
	now := s.now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.CreatedAt
	}
	if sub.Status == "" {
		sub.Status = model.StatusPending
	}
	s.subs[sub.ID] = sub
	metrics.UpdateSubmissionCount(float64(len(s.subs)))
	return nil
}

// Get returns the submission with the given ID.
func (s *MemoryStore) Get(_ context.Context, id string) (model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return model.Submission{}, ErrNotFound
	}
	return sub, nil
}

// List returns submissions matching the filter, newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) (Page, error) {
	s.mu.RLock()
	matched := make([]model.Submission, 0, len(s.subs))
	for _, sub := range s.subs {
		if f.Status != "" && sub.Status != f.Status {
			continue
		}
		if f.Language != "" && sub.Language != f.Language {
			continue
		}
		if f.MinScore > 0 && (sub.Result == nil || sub.Result.Score < f.MinScore) {
			continue
		}
		if f.MaxScore > 0 && (sub.Result == nil || sub.Result.Score > f.MaxScore) {
			continue
		}
		matched = append(matched, sub)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= total {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return Page{Submissions: matched, Total: total}, nil
}

// UpdateStatus moves a submission to the given state.
func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status model.Status, reason string) (model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return model.Submission{}, ErrNotFound
	}
	if !sub.Status.CanTransitionTo(status) {
		return model.Submission{}, ErrInvalidTransition
	}
	sub.Status = status
	sub.Error = reason
	sub.UpdatedAt = s.now()
	s.subs[id] = sub
	return sub, nil
}

// AttachResult stores the review result and marks the submission completed.
func (s *MemoryStore) AttachResult(_ context.Context, id string, result model.ReviewResult) (model.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return model.Submission{}, ErrNotFound
	}
	if !sub.Status.CanTransitionTo(model.StatusCompleted) {
		return model.Submission{}, ErrInvalidTransition
	}
	sub.Status = model.StatusCompleted
	sub.Error = ""
	sub.Result = &result
	sub.UpdatedAt = s.now()
	s.subs[id] = sub
	return sub, nil
}

// Delete removes a submission.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[id]; !ok {
		return ErrNotFound
	}
	delete(s.subs, id)
	metrics.UpdateSubmissionCount(float64(len(s.subs)))
	return nil
}

// Count returns the number of submissions tracked.
func (s *MemoryStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
