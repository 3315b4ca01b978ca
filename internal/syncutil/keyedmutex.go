// Package syncutil provides keyed locking for serializing work on a single
// tenant, slug or subscription without a global lock.
package syncutil

import (
	"context"
	"sync"
)

// KeyedMutex hands out one context-aware lock per key. Locks exist only while
// held or awaited, so memory is bounded by concurrency rather than by the
// number of keys ever seen. Distinct keys never contend, which makes nested
// locking on different keys safe.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a channel-based mutex so waiters can select on ctx.Done().
type keyLock struct {
	ch   chan struct{}
	refs int // holders plus waiters; guarded by KeyedMutex.mu
}

// NewKeyedMutex creates an empty keyed mutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

// LockContext acquires the lock for key. On success it returns an unlock
// function the caller must call exactly once. If ctx ends first it returns
// the context error and holds nothing.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	l := m.acquire(key)

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				m.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		m.release(key, l)
		return nil, ctx.Err()
	}
}

// Len reports how many keys currently have holders or waiters.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *KeyedMutex) acquire(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		m.locks[key] = l
	}
	l.refs++
	return l
}

func (m *KeyedMutex) release(key string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, key)
	}
}
