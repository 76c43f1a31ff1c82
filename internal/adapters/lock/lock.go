// Package lock provides the single-flight guard used for assignment
// generation, in-process or shared through Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another holder owns the key.
var ErrHeld = errors.New("lock held")

// Release gives the lock back. Releasing twice is a no-op.
type Release func(ctx context.Context) error

// Locker acquires non-blocking, exclusive locks by key.
type Locker interface {
	// TryLock fails fast with ErrHeld instead of waiting.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// LocalLocker serializes holders inside one process. ttl is ignored; the
// holder always releases.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an empty LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker.
func (l *LocalLocker) TryLock(_ context.Context, key string, _ time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}

// Held reports whether key is currently locked.
func (l *LocalLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

// releaseScript deletes the key only while it still carries our token, so
// an expired lock taken over by another instance is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares locks between service instances with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLocker wraps client. Keys are stored under prefix.
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "hackops:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

// TryLock implements Locker. ttl bounds how long a crashed holder blocks
// others.
func (r *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	token := uuid.NewString()
	full := r.prefix + key
	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, key)
	}
	var once sync.Once
	return func(ctx context.Context) error {
		var rerr error
		once.Do(func() {
			if err := releaseScript.Run(ctx, r.client, []string{full}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				rerr = fmt.Errorf("redis unlock %s: %w", key, err)
			}
		})
		return rerr
	}, nil
}

// OpenRedis connects and pings addr.
func OpenRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
