// Package lock implements ports.PairLocker in process and on Redis.
package lock

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alejandrodnm/mintmaker/internal/domain"
)

// unlockLua deletes the key only if it still holds the caller's token, so a
// holder whose lease expired cannot release someone else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisConfig holds connection parameters.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	// TTL bounds how long a crashed holder blocks a pair.
	TTL time.Duration
	// Retry is the wait between acquisition attempts.
	Retry time.Duration
}

// Redis is a PairLocker shared by every process pointed at the same Redis,
// so two engines never mutate one pair at once.
type Redis struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	ttl      time.Duration
	retry    time.Duration
}

// NewRedis connects and pings.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 50 * time.Millisecond
	}
	return &Redis{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		ttl:      cfg.TTL,
		retry:    cfg.Retry,
	}, nil
}

func lockKey(pairID string) string { return "mintmaker:lock:pair:" + pairID }

// TryLock makes one SETNX attempt. It returns domain.ErrLockHeld when another
// holder has the pair.
func (r *Redis) TryLock(ctx context.Context, pairID string) (func(), error) {
	token := uuid.New().String()
	key := lockKey(pairID)

	ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w: %w", pairID, domain.ErrTransient, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// background context: unlock must run even after the caller's ctx ended
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.unlockSc.Run(unlockCtx, r.rdb, []string{key}, token).Err()
	}, nil
}

// Lock retries TryLock until it succeeds or ctx is done.
func (r *Redis) Lock(ctx context.Context, pairID string) (func(), error) {
	for {
		unlock, err := r.TryLock(ctx, pairID)
		if err == nil {
			return unlock, nil
		}
		if err != domain.ErrLockHeld {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock pair %s: %w", pairID, ctx.Err())
		case <-time.After(r.retry):
		}
	}
}

// Close releases the connection pool.
func (r *Redis) Close() error { return r.rdb.Close() }
