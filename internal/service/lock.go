package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker hands out short leases so only one replica runs a sweeper job at a time.
type Locker interface {
	// TryLock returns a release func when the lease was taken, or nil when another holder has it.
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

type redisLocker struct {
	rdb    *redis.Client
	prefix string
}

// NewLocker uses Redis leases when rdb is set and a process-local no-op otherwise.
func NewLocker(rdb *redis.Client) Locker {
	if rdb == nil {
		return localLocker{}
	}
	return &redisLocker{rdb: rdb, prefix: "stockmedia:lock:"}
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *redisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	key := l.prefix + name
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}, nil
}

// localLocker always grants the lease.
type localLocker struct{}

func (localLocker) TryLock(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}
