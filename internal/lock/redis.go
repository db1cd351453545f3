// Package lock keeps collection runs exclusive across processes sharing one mirror.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ortelius/cve-mirror/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrHeld is returned when another owner holds the lock
var ErrHeld = errors.New("lock held by another owner")

// ErrLost is the cancel cause of a lease context whose key expired or was taken over
var ErrLost = errors.New("lock lost before release")

// Only the owner's token may extend or delete the key.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisLocker hands out leases on Redis keys, refreshed while held
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker connects to cfg.RedisURL and checks the connection
func NewRedisLocker(ctx context.Context, cfg config.Lock, logger *zap.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = config.DefaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl, logger: logger}, nil
}

// Acquire takes the lock on key. The returned context is derived from ctx and
// is canceled with ErrLost if the lease cannot be kept. The release function
// stops the refresh loop and deletes the key if this owner still holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, nil, ErrHeld
	}

	leaseCtx, lose := context.WithCancelCause(ctx)
	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if !l.refresh(refreshCtx, key, token) {
			lose(ErrLost)
		}
	}()

	var once sync.Once
	return leaseCtx, func() {
		once.Do(func() {
			stop()
			wg.Wait()
			lose(nil)

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// refresh extends the lease every ttl/3 until ctx is done. It returns false
// once the key is no longer ours or no refresh succeeded within one ttl.
func (l *RedisLocker) refresh(ctx context.Context, key, token string) bool {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	lastOK := time.Now()
	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			switch {
			case ctx.Err() != nil:
				return true
			case err != nil:
				l.logger.Warn("Failed to refresh lock", zap.String("key", key), zap.Error(err))
				if time.Since(lastOK) >= l.ttl {
					l.logger.Error("Lock lease expired while Redis was unreachable", zap.String("key", key))
					return false
				}
			case n == 0:
				l.logger.Error("Lock lost before the run finished", zap.String("key", key))
				return false
			default:
				lastOK = time.Now()
			}
		}
	}
}

// Close closes the Redis connection
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
