package lease

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestMemoryLocker() (*MemoryLocker, *testClock) {
	c := &testClock{now: time.Unix(1_700_000_000, 0)}
	m := NewMemoryLocker()
	m.now = c.Now
	return m, c
}

func TestMemoryLocker_AcquireAndRelease(t *testing.T) {
	m, _ := newTestMemoryLocker()
	ctx := context.Background()

	l, err := m.Acquire(ctx, "sync#user1", "instance-a")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if l.Key != "sync#user1" || l.Owner != "instance-a" {
		t.Errorf("Lease mismatch: got %+v", l)
	}

	if err := m.Release(ctx, "sync#user1", "instance-a"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	status, _ := m.Status(ctx, "sync#user1")
	if status != nil {
		t.Error("Expected nil lease status after release")
	}
}

func TestMemoryLocker_Contention(t *testing.T) {
	tests := []struct {
		name    string
		second  string
		advance time.Duration
		wantErr error
	}{
		{"same owner re-acquires", "instance-a", 0, nil},
		{"other owner is blocked", "instance-b", 0, ErrHeld},
		{"other owner after expiry", "instance-b", DefaultTTL + time.Second, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, c := newTestMemoryLocker()
			ctx := context.Background()
			if _, err := m.Acquire(ctx, "k", "instance-a"); err != nil {
				t.Fatalf("First acquire failed: %v", err)
			}
			c.now = c.now.Add(tt.advance)

			_, err := m.Acquire(ctx, "k", tt.second)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Acquire error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMemoryLocker_Status(t *testing.T) {
	m, c := newTestMemoryLocker()
	ctx := context.Background()

	if status, err := m.Status(ctx, "nonexistent"); err != nil || status != nil {
		t.Errorf("Expected nil status for nonexistent lease, got %+v (%v)", status, err)
	}

	m.Acquire(ctx, "k", "instance-a")
	status, err := m.Status(ctx, "k")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status == nil || status.Owner != "instance-a" {
		t.Fatalf("Expected lease owned by instance-a, got %+v", status)
	}

	c.now = c.now.Add(DefaultTTL + time.Second)
	if status, _ := m.Status(ctx, "k"); status != nil {
		t.Errorf("Expected expired lease to be reported as nil, got %+v", status)
	}
}

func TestMemoryLocker_ReleaseWrongOwner(t *testing.T) {
	m, _ := newTestMemoryLocker()
	ctx := context.Background()

	m.Acquire(ctx, "k", "instance-a")

	if err := m.Release(ctx, "k", "instance-b"); !errors.Is(err, ErrHeld) {
		t.Errorf("Expected ErrHeld when releasing another owner's lease, got %v", err)
	}
	if status, _ := m.Status(ctx, "k"); status == nil {
		t.Error("Lease should still be held")
	}
}
