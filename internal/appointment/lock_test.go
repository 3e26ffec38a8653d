package appointment

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSlotLocker_SerializesSameKey(t *testing.T) {
	locker := NewLocalSlotLocker()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithSlotLock(context.Background(), "Dr. Smith|2024-06-01|09:00", func(context.Context) error {
				n := inside.Add(1)
				for {
					m := maxSeen.Load()
					if n <= m || maxSeen.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestLocalSlotLocker_DifferentKeysDoNotBlock(t *testing.T) {
	locker := NewLocalSlotLocker()
	release := make(chan struct{})
	held := make(chan struct{})

	go func() {
		_ = locker.WithSlotLock(context.Background(), "a", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := locker.WithSlotLock(ctx, "b", func(context.Context) error { return nil })
	require.NoError(t, err)
	close(release)
}

func TestLocalSlotLocker_WaitHonoursContext(t *testing.T) {
	locker := NewLocalSlotLocker()
	release := make(chan struct{})
	held := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = locker.WithSlotLock(context.Background(), "k", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := locker.WithSlotLock(ctx, "k", func(context.Context) error {
		t.Error("callback must not run without the lock")
		return nil
	})
	require.ErrorIs(t, err, ErrStorageUnavailable)

	close(release)
	<-done

	l := locker.(*localSlotLocker)
	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.slots)
}
