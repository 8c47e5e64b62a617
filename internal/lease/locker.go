// Package lease provides short-lived, owner-scoped locks. The sync service
// takes one per user around every push to the cloud so that two Lambda
// instances never upload the same user's sessions at once.
package lease

import (
	"context"
	"errors"
	"time"
)

const DefaultTTL = 2 * time.Minute

// ErrHeld is returned when another owner holds an unexpired lease.
var ErrHeld = errors.New("lease is held by another owner")

// Lease is one held lock.
type Lease struct {
	Key       string `dynamodbav:"lease_key"`
	Owner     string `dynamodbav:"owner"`
	ExpiresAt int64  `dynamodbav:"expires_at"` // unix seconds, also the table TTL attribute
}

// Locker defines the interface for lease management.
type Locker interface {
	// Acquire takes the lease for owner. It succeeds if no lease exists, the
	// existing one has expired, or owner already holds it.
	Acquire(ctx context.Context, key, owner string) (*Lease, error)

	// Release removes the lease if owner holds it and returns ErrHeld otherwise.
	Release(ctx context.Context, key, owner string) error

	// Status returns the unexpired lease for key, or nil.
	Status(ctx context.Context, key string) (*Lease, error)
}
