// Package lock provides lease locks so a periodic job runs on one replica at a time.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Lease is a held lock. Release is safe to call after the lease expired.
type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	// TryAcquire returns a nil lease without error when someone else holds name.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lease, error)
}

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type RedisLocker struct {
	client *redis.Client
	prefix string
}

func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (l *RedisLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	return &redisLease{client: l.client, key: key, token: token}, nil
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// LocalLocker serialises jobs inside one process. It is used when no Redis is configured.
type LocalLocker struct {
	mu     sync.Mutex
	now    func() time.Time
	leases map[string]localEntry
}

type localEntry struct {
	token   string
	expires time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{now: time.Now, leases: map[string]localEntry{}}
}

func (l *LocalLocker) TryAcquire(_ context.Context, name string, ttl time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if e, ok := l.leases[name]; ok && now.Before(e.expires) {
		return nil, nil
	}
	token := uuid.NewString()
	l.leases[name] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{locker: l, name: name, token: token}, nil
}

type localLease struct {
	locker *LocalLocker
	name   string
	token  string
}

func (l *localLease) Release(context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	if e, ok := l.locker.leases[l.name]; ok && e.token == l.token {
		delete(l.locker.leases, l.name)
	}
	return nil
}

// Run executes fn while holding name. It reports false without running fn when the
// lock is held elsewhere.
func Run(ctx context.Context, l Locker, logger *zap.Logger, name string, ttl time.Duration, fn func(context.Context) error) (bool, error) {
	lease, err := l.TryAcquire(ctx, name, ttl)
	if err != nil {
		return false, err
	}
	if lease == nil {
		logger.Debug("Job lock held elsewhere, skipping", zap.String("lock", name))
		return false, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release job lock", zap.String("lock", name), zap.Error(err))
		}
	}()
	return true, fn(ctx)
}
