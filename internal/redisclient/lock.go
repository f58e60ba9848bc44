package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrLockNotAcquired = errors.New("queue lock not acquired")
)

// Locker serializes queue joins per doctor and calendar day so that
// concurrent joins cannot allocate the same ticket number.
type Locker interface {
	WithQueueLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error
}

type redisQueueLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisQueueLocker creates a locker keyed by doctor and day.
func NewRedisQueueLocker(client *redis.Client, ttl time.Duration) Locker {
	return &redisQueueLocker{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisQueueLocker) WithQueueLock(ctx context.Context, doctorID uuid.UUID, day time.Time, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lock:queue:%s:%s", doctorID.String(), day.UTC().Format("2006-01-02"))
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire queue lock: %w", err)
	}
	if !ok {
		return ErrLockNotAcquired
	}

	defer func() {
		_ = l.release(ctx, key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var unlockScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisQueueLocker) release(ctx context.Context, key, token string) error {
	_, err := unlockScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release queue lock: %w", err)
	}
	return nil
}
