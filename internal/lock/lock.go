// Package lock serializes work that targets the same cursor key. Two
// overlapping syncs of one job would otherwise race on the same cursor row.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrLocked is returned when another holder owns the key.
var ErrLocked = errors.New("lock: key is already held")

// Locker hands out non-blocking per-key locks.
type Locker interface {
	// TryAcquire takes key for at most ttl. The returned release func is
	// idempotent. Returns ErrLocked when the key is held elsewhere.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Memory is a process-local Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewMemory creates an in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]time.Time), now: time.Now}
}

// TryAcquire implements Locker. Expired holds are reclaimed.
func (m *Memory) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expiry, ok := m.held[key]; ok && (ttl <= 0 || now.Before(expiry)) {
		return nil, errors.Wrapf(ErrLocked, "key %q", key)
	}

	expiry := now.Add(ttl)
	m.held[key] = expiry

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.held[key] == expiry {
				delete(m.held, key)
			}
		})
	}, nil
}

// renewDivisor sets the renewal interval of a hold as a fraction of its ttl.
const renewDivisor = 3

// keepAlive calls renew every interval until stop is closed or renew reports
// that the hold is gone. Renewal errors are retried on the next tick.
func keepAlive(stop <-chan struct{}, interval time.Duration, renew func() (bool, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			held, err := renew()
			if err == nil && !held {
				return
			}
		}
	}
}
