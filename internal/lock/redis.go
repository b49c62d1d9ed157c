// Package lock keeps a second bot instance from writing to the same ledgers.
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

var (
	ErrHeld = errors.New("lock held by another instance")
	ErrLost = errors.New("lock lost")
)

// Compare-and-delete and compare-and-extend on the holder's token.
var (
	unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)
	refreshScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)
)

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

// Lock is a single-holder Redis lease identified by a random token.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// Acquire takes the lease on key or returns ErrHeld.
func Acquire(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (*Lock, error) {
	l := &Lock{rdb: rdb, key: "lock:" + key, token: uuid.New().String(), ttl: ttl}
	ok, err := rdb.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return l, nil
}

func (l *Lock) Token() string { return l.token }

// Refresh extends the lease. It returns ErrLost when another holder owns the
// key or it has expired.
func (l *Lock) Refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh lock: %w", err)
	}
	if n == 0 {
		return ErrLost
	}
	return nil
}

// Keep refreshes the lease every third of its TTL until ctx is done. A lost
// lease ends it with ErrLost; transient Redis errors are logged and retried.
func (l *Lock) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := l.Refresh(ctx)
			if errors.Is(err, ErrLost) {
				return err
			}
			if err != nil && ctx.Err() == nil {
				log.Warn().Str("component", "lock").Err(err).Msg("lock refresh failed")
			}
		}
	}
}

// Release drops the lease if this holder still owns it.
func (l *Lock) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := unlockScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		log.Warn().Str("component", "lock").Err(err).Msg("lock release failed")
	}
}
