// Package lock provides advisory per-account locks so that several server
// replicas do not drive the same closure at the same moment. The lock is
// never needed for correctness: every closure action re-validates against a
// fresh brokerage snapshot.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"sunset/internal/domain"
)

// Locker acquires named locks with a TTL.
type Locker interface {
	// Acquire obtains the lock for key. On success it returns an unlock
	// function that is safe to call more than once. It returns
	// domain.ErrLockHeld if another holder owns the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// unlockLua deletes the key only if it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Compile-time interface checks.
var _ Locker = (*RedisLocker)(nil)
var _ Locker = NoopLocker{}

// RedisLocker implements Locker using SETNX with a TTL and a Lua-based
// conditional unlock.
type RedisLocker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	prefix   string
}

// NewRedisLocker connects to Redis at addr and verifies the connection.
func NewRedisLocker(ctx context.Context, addr, password string, db int) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return newRedisLocker(rdb), nil
}

func newRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		prefix:   "sunset:lock:",
	}
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := l.prefix + key

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// Background context: the caller's may already be canceled.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.unlockSc.Run(ctx, l.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// NoopLocker always succeeds. It is used when Redis is not configured.
type NoopLocker struct{}

// Acquire implements Locker.
func (NoopLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}
