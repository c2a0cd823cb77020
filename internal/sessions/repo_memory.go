package sessions

import (
	"context"
	"sync"

	"brandpost-backend/internal/shared/errs"
)

// MemoryRepo is an in-memory implementation of Repo.
type MemoryRepo struct {
	mu   sync.RWMutex
	data map[string]Session
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{data: make(map[string]Session)}
}

// Get returns a copy of the stored session.
func (r *MemoryRepo) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.data[id]
	if !ok {
		return Session{}, errs.ErrNotFound
	}
	return s.Clone(), nil
}

// Save stores/overwrites the session snapshot.
func (r *MemoryRepo) Save(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := s.Clone()
	if snap.Image != nil {
		snap.Image.Data = nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[s.ID] = snap
	return nil
}

// Delete removes a session. Missing sessions are not an error.
func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, id)
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
