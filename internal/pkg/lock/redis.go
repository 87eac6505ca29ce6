package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock is a per-user lock shared across processes. Each acquisition
// stores a random token with a TTL; release is a compare-and-delete.
type RedisLock struct {
	rdb       *redis.Client
	prefix    string
	ttl       time.Duration
	timeout   time.Duration
	retryWait time.Duration
}

// NewRedisLock creates a RedisLock. ttl must exceed the longest critical section.
func NewRedisLock(rdb *redis.Client, ttl, timeout time.Duration) *RedisLock {
	return &RedisLock{
		rdb:       rdb,
		prefix:    "lock:user:",
		ttl:       ttl,
		timeout:   timeout,
		retryWait: 25 * time.Millisecond,
	}
}

func (l *RedisLock) key(userID string) string {
	return l.prefix + userID
}

// acquire polls SET NX until it wins, ctx is done, or the timeout elapses.
func (l *RedisLock) acquire(ctx context.Context, userID string) (string, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	token := uuid.NewString()
	ticker := time.NewTicker(l.retryWait)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, l.key(userID), token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("failed to acquire lock for %s: %w", userID, err)
		}
		if ok {
			return token, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrLockTimeout
			}
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLock) release(userID, token string) error {
	// Release must run even if the caller's context was cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key(userID)}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock for %s: %w", userID, err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// WithLock executes fn while holding the user's distributed lock.
func (l *RedisLock) WithLock(ctx context.Context, userID string, fn func() error) error {
	token, err := l.acquire(ctx, userID)
	if err != nil {
		return err
	}

	fnErr := fn()

	// fn has already run; a lost lock is reported but does not turn a
	// completed operation into a failure.
	if err := l.release(userID, token); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Distributed lock release failed")
	}
	return fnErr
}
