package appointment

import (
	"context"
	"sync"
)

type slotMutex struct {
	ch   chan struct{}
	refs int
}

// localSlotLocker serializes critical sections per key within one process.
// Entries are dropped once no goroutine holds or waits on them.
type localSlotLocker struct {
	mu    sync.Mutex
	slots map[string]*slotMutex
}

// NewLocalSlotLocker returns an in-process Locker.
func NewLocalSlotLocker() Locker {
	return &localSlotLocker{slots: make(map[string]*slotMutex)}
}

func (l *localSlotLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	m := l.acquireRef(key)
	defer l.releaseRef(key, m)

	select {
	case m.ch <- struct{}{}:
	case <-ctx.Done():
		return unavailable("acquire slot lock", ctx.Err())
	}
	defer func() { <-m.ch }()

	return fn(ctx)
}

func (l *localSlotLocker) acquireRef(key string) *slotMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.slots[key]
	if !ok {
		m = &slotMutex{ch: make(chan struct{}, 1)}
		l.slots[key] = m
	}
	m.refs++
	return m
}

func (l *localSlotLocker) releaseRef(key string, m *slotMutex) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m.refs--
	if m.refs == 0 {
		delete(l.slots, key)
	}
}
