package sessionsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adem9445/iub-recorder/backend/internal/lease"
)

const leaseRetryInterval = 250 * time.Millisecond

// WithLease serializes pushes for the user across processes. owner must be
// unique per process.
func WithLease(l lease.Locker, owner string) Option {
	return func(s *Syncer) {
		s.lease = l
		s.leaseOwner = owner
	}
}

func (s *Syncer) leaseKey() string {
	return "sync#" + s.store.UserID()
}

// acquireLease waits for the user's push lease until ctx is done. Lease
// backend failures are logged and the push goes ahead unserialized.
func (s *Syncer) acquireLease(ctx context.Context) (release func(), err error) {
	noop := func() {}
	if s.lease == nil {
		return noop, nil
	}

	key := s.leaseKey()
	for {
		_, err := s.lease.Acquire(ctx, key, s.leaseOwner)
		if err == nil {
			return func() {
				if err := s.lease.Release(context.WithoutCancel(ctx), key, s.leaseOwner); err != nil {
					s.logger.Printf("failed to release sync lease for user %s: %v", s.store.UserID(), err)
				}
			}, nil
		}
		if !errors.Is(err, lease.ErrHeld) {
			s.logger.Printf("sync lease unavailable for user %s, pushing without it: %v", s.store.UserID(), err)
			return noop, nil
		}

		select {
		case <-ctx.Done():
			return noop, fmt.Errorf("waiting for sync lease: %w", ctx.Err())
		case <-time.After(leaseRetryInterval):
		}
	}
}
