package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another qualifier holds the lock past the
// acquire deadline.
var ErrLockHeld = errors.New("lock held by another qualifier")

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the lease forward only while we still hold it.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker implements a lease-based lock shared by every qualifier that
// pushes to the same results repository.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
	wait   time.Duration
}

// NewRedisLocker creates a RedisLocker from a Redis URL. ttl bounds how long a
// crashed holder blocks others; a live holder renews its lease every ttl/3.
// Lock gives up after waiting ttl itself.
func NewRedisLocker(redisURL string, ttl time.Duration) (*RedisLocker, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	return &RedisLocker{
		client: redis.NewClient(opts),
		ttl:    ttl,
		retry:  500 * time.Millisecond,
		wait:   ttl,
	}, nil
}

func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// Lock blocks until the named lock is acquired, ctx is done, or the wait
// deadline passes. The lease is renewed in the background until the returned
// func releases the lock.
func (l *RedisLocker) Lock(ctx context.Context, name string) (func(context.Context) error, error) {
	key := PublishLockKey(name)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return l.hold(key, token), nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// hold renews the lease until the returned release func is called or the
// lease is lost.
func (l *RedisLocker) hold(key, token string) func(context.Context) error {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		t := time.NewTicker(l.ttl / 3)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
			}

			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case errors.Is(err, redis.ErrClosed):
				return
			case err != nil:
				slog.Warn("failed to renew lock", "key", key, "error", err)
			case n == 0:
				slog.Warn("lock lost before release", "key", key)
				return
			}
		}
	}()

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		<-done
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
}

// IncrWithExpiry increments key and (re)sets its expiry in one transaction.
func (l *RedisLocker) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// NopLocker is used when qualifiers do not share a results repository.
type NopLocker struct{}

func (NopLocker) Lock(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
