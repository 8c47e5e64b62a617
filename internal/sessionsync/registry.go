package sessionsync

import (
	"context"
	"sync"
)

// Registry hands out one Syncer per user, created on first use.
type Registry struct {
	build func(userID string) *Syncer

	mu      sync.Mutex
	syncers map[string]*Syncer
}

// NewRegistry creates a registry that builds syncers with build.
func NewRegistry(build func(userID string) *Syncer) *Registry {
	return &Registry{
		build:   build,
		syncers: make(map[string]*Syncer),
	}
}

// Get returns the user's syncer.
func (r *Registry) Get(userID string) *Syncer {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.syncers[userID]
	if !ok {
		s = r.build(userID)
		r.syncers[userID] = s
	}
	return s
}

// Reinitialize forces the user's syncer, if any, to re-read its settings.
func (r *Registry) Reinitialize(ctx context.Context, userID string) error {
	r.mu.Lock()
	s, ok := r.syncers[userID]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Reinitialize(ctx)
}
