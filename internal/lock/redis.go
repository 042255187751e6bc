// Package lock provides a Redis-backed lease so that only one sweeper
// instance runs per tick.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/dvloznov/p2ptransfers/internal/sweeper"
)

// ErrNotHeld is returned by Release when the lease expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// RedisLocker grants leases through redsync.
type RedisLocker struct {
	rs *redsync.Redsync
}

// NewRedisLocker wraps an existing go-redis client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client))}
}

// Connect dials addr, pings it and returns the client with a locker over it.
func Connect(ctx context.Context, addr string) (*redis.Client, *RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("Connect: ping %s: %w", addr, err)
	}
	return client, NewRedisLocker(client), nil
}

// TryAcquire takes the lease for key once, without retrying.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (sweeper.Lock, bool, error) {
	if strings.TrimSpace(key) == "" {
		return nil, false, errors.New("TryAcquire: empty lock key")
	}

	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("TryAcquire %s: %w", key, err)
	}
	return &lease{mutex: mutex}, true, nil
}

// isContention distinguishes "someone else holds it" from real failures.
func isContention(err error) bool {
	if errors.Is(err, redsync.ErrFailed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}

type lease struct {
	mutex *redsync.Mutex
}

// Release gives the lease back.
func (l *lease) Release(ctx context.Context) error {
	ok, err := l.mutex.UnlockContext(ctx)
	if err != nil {
		return fmt.Errorf("Release %s: %w", l.mutex.Name(), err)
	}
	if !ok {
		return fmt.Errorf("Release %s: %w", l.mutex.Name(), ErrNotHeld)
	}
	return nil
}

var _ sweeper.Locker = (*RedisLocker)(nil)
