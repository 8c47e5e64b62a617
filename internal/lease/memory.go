package lease

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker using an in-memory map, for dev mode and tests.
type MemoryLocker struct {
	leases map[string]Lease
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryLocker creates a new MemoryLocker with the default TTL.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]Lease),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key, owner string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().Unix()
	if existing, ok := m.leases[key]; ok {
		if existing.ExpiresAt >= now && existing.Owner != owner {
			return nil, ErrHeld
		}
	}

	l := Lease{Key: key, Owner: owner, ExpiresAt: now + int64(m.ttl.Seconds())}
	m.leases[key] = l
	return &l, nil
}

func (m *MemoryLocker) Release(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.Owner != owner {
		return ErrHeld
	}
	delete(m.leases, key)
	return nil
}

func (m *MemoryLocker) Status(ctx context.Context, key string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.leases[key]
	if !ok || existing.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	return &existing, nil
}
