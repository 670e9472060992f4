package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker is an in-process Locker. Zero TTL means the lease never expires.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryHold
	clock func() time.Time
}

type memoryHold struct {
	token   string
	expires time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryHold),
		clock: time.Now,
	}
}

// TryLock acquires key or returns ErrLocked.
func (l *MemoryLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if h, ok := l.held[key]; ok && (h.expires.IsZero() || now.Before(h.expires)) {
		return nil, ErrLocked
	}

	hold := memoryHold{token: uuid.NewString()}
	if ttl > 0 {
		hold.expires = now.Add(ttl)
	}
	l.held[key] = hold

	return &memoryLease{locker: l, key: key, token: hold.token}, nil
}

func (l *MemoryLocker) release(key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.held[key]
	if !ok || h.token != token {
		return ErrNotHeld
	}
	delete(l.held, key)
	return nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
	once   sync.Once
	err    error
}

func (m *memoryLease) Key() string { return m.key }

func (m *memoryLease) Release(context.Context) error {
	m.once.Do(func() {
		m.err = m.locker.release(m.key, m.token)
	})
	return m.err
}
