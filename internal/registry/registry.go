// Package registry tracks in-flight pipeline requests per user and carries
// the cooperative cancellation protocol between the cancel command and the
// pipeline's checkpoints.
package registry

import (
	"sync"
	"time"

	"insightbot/internal/model"
)

// Record is one user-initiated pipeline run. It is created by Register,
// mutated only by CancelLast, and removed by Finalize on every exit path.
type Record struct {
	ID              string
	CancelRequested bool
	StartedAt       time.Time
}

// Registry holds per-user ordered lists of in-flight requests. All methods
// are safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	byUser map[string][]*Record
}

func New() *Registry {
	return &Registry{
		byUser: make(map[string][]*Record),
	}
}

// Register appends a new record to the user's queue and returns it. Insertion
// order is arrival order; CancelLast always targets the newest entry.
func (r *Registry) Register(userID string) (*Record, error) {
	id, err := model.GenerateID(model.IDTypeRequest)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:        id,
		StartedAt: time.Now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[userID] = append(r.byUser[userID], rec)
	return rec, nil
}

// IsCancelled reports whether the pipeline run for requestID should stop.
// A record that is absent (already finalized) counts as cancelled so that a
// stray post-completion poll fails safe.
func (r *Registry) IsCancelled(userID, requestID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.byUser[userID] {
		if rec.ID == requestID {
			return rec.CancelRequested
		}
	}
	return true
}

// CancelLast flags the user's most recent in-flight request for cancellation
// and returns its ID. The second return is false when the user has nothing in
// flight. Repeated calls target whatever is newest at call time, which may be
// a different request if one started in between.
func (r *Registry) CancelLast(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.byUser[userID]
	if len(recs) == 0 {
		return "", false
	}
	last := recs[len(recs)-1]
	last.CancelRequested = true
	return last.ID, true
}

// Finalize removes the record with the given ID from the user's queue.
// It is a no-op if the record was already removed.
func (r *Registry) Finalize(userID, requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.byUser[userID]
	for i, rec := range recs {
		if rec.ID == requestID {
			r.byUser[userID] = append(recs[:i], recs[i+1:]...)
			break
		}
	}
	if len(r.byUser[userID]) == 0 {
		delete(r.byUser, userID)
	}
}

// InFlight returns the number of registered requests for the user.
func (r *Registry) InFlight(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID])
}
