package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"equipment-booking/internal/models"
	"equipment-booking/internal/util"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

const (
	lockPrefix        = "lock:"
	idempotencyPrefix = "idempotency:"
)

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	newToken      func() string
	logger        *zap.Logger
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(rdb), nil
}

// NewWithClient wraps an existing connection.
func NewWithClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		newToken:      uuid.NewString,
		logger:        util.Named("redis"),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock tries once to take the lock. The returned token identifies the
// owner and is required to release it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	token := c.newToken()
	ok, err := c.rdb.SetNX(ctx, lockPrefix+lockKey, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock releases the lock if it is still held by token. A lock that
// expired and was taken by someone else is left alone.
func (c *Client) ReleaseLock(ctx context.Context, lockKey, token string) (bool, error) {
	n, err := c.releaseScript.Run(ctx, c.rdb, []string{lockPrefix + lockKey}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock script failed: %w", err)
	}
	return n == 1, nil
}

// SetIdempotencyKey stores value under key unless the key already exists.
// It reports whether the value was stored.
func (c *Client) SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, idempotencyPrefix+key, value, ttl).Result()
}

// GetIdempotencyKey returns the value stored under key, if any.
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Locker hands out Redis-backed mutual exclusion per key, waiting up to a
// bounded time for a busy key.
type Locker struct {
	client *Client
	ttl    time.Duration
	wait   time.Duration
	poll   time.Duration
}

// NewLocker creates a locker whose locks expire after ttl and whose Lock
// gives up after wait.
func NewLocker(client *Client, ttl, wait time.Duration) *Locker {
	return &Locker{client: client, ttl: ttl, wait: wait, poll: 25 * time.Millisecond}
}

// Lock blocks until key is held, wait elapses, or ctx is done. A wait
// timeout or Redis failure is reported as a transient dependency error.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	deadline := time.Now().Add(l.wait)
	poll := l.poll

	for {
		token, ok, err := l.client.AcquireLock(ctx, key, l.ttl)
		if err != nil {
			return nil, models.NewTransientError("redis", err)
		}
		if ok {
			return func() { l.unlock(key, token) }, nil
		}

		if time.Now().Add(poll).After(deadline) {
			return nil, models.NewTransientError("lock", fmt.Errorf("timed out waiting for %s", key))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
		if poll < 200*time.Millisecond {
			poll *= 2
		}
	}
}

func (l *Locker) unlock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	released, err := l.client.ReleaseLock(ctx, key, token)
	if err != nil {
		l.client.logger.Error("Failed to release lock", zap.String("key", key), zap.Error(err))
		return
	}
	if !released {
		l.client.logger.Warn("Lock expired before release", zap.String("key", key))
	}
}
