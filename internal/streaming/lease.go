package streaming

import (
	"context"
	"sync"
	"time"
)

// Lease grants one owner exclusive use of a key across processes for ttl.
// The buffer enforces exclusivity inside a process; a lease extends it to a
// fleet sharing a store.
type Lease interface {
	Acquire(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key Key, owner string) error
}

type memoryHold struct {
	owner   string
	expires time.Time
}

// MemoryLease is a process-local Lease.
type MemoryLease struct {
	mu    sync.Mutex
	holds map[Key]memoryHold
	now   func() time.Time
}

func NewMemoryLease() *MemoryLease {
	return &MemoryLease{holds: make(map[Key]memoryHold), now: time.Now}
}

func (l *MemoryLease) Acquire(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.holds[key]; ok && now.Before(h.expires) && h.owner != owner {
		return false, nil
	}
	l.holds[key] = memoryHold{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *MemoryLease) Refresh(ctx context.Context, key Key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	h, ok := l.holds[key]
	if !ok || h.owner != owner || !now.Before(h.expires) {
		return false, nil
	}
	h.expires = now.Add(ttl)
	l.holds[key] = h
	return true, nil
}

func (l *MemoryLease) Release(ctx context.Context, key Key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holds[key]; ok && h.owner == owner {
		delete(l.holds, key)
	}
	return nil
}
