package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

const (
	slotKeyPrefix  = "lock:slot:"
	defaultLockTTL = 5 * time.Second
)

type redisSlotLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisSlotLocker creates a locker that uses a per slot Redis key, so
// bookings are serialized across every API replica sharing the database.
// Contended callers poll every retry until their context is done.
func NewRedisSlotLocker(client *redis.Client, ttl, retry time.Duration) appointment.Locker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &redisSlotLocker{
		client: client,
		ttl:    ttl,
		retry:  retry,
	}
}

func (l *redisSlotLocker) WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	redisKey := slotKeyPrefix + key
	token := uuid.NewString()

	if err := l.acquire(ctx, redisKey, token); err != nil {
		return err
	}

	defer func() {
		// the caller's ctx may already be done; release on a fresh one
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = l.release(releaseCtx, redisKey, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

func (l *redisSlotLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("acquire slot lock: %w: %w", appointment.ErrStorageUnavailable, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire slot lock: %w: %w", appointment.ErrStorageUnavailable, ctx.Err())
		case <-ticker.C:
		}
	}
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisSlotLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release slot lock: %w", err)
	}
	return nil
}
