package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker guards a sweep pass against a concurrent pass on the same directory.
// TryLock never blocks; ok is false when another pass holds the lock.
type Locker interface {
	TryLock(ctx context.Context) (unlock func(), ok bool, err error)
}

const defaultLockTTL = 10 * time.Minute

// compare-and-delete so an expired lock taken over by another replica is left alone
var unlockScript = redis.NewScript(`if redis.call('GET', KEYS[1]) == ARGV[1] then return redis.call('DEL', KEYS[1]) end; return 0`)

// RedisLocker extends the in-process guard across replicas sharing one directory.
type RedisLocker struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisLocker returns a Locker keyed on the swept directory. A zero ttl uses ten minutes.
func NewRedisLocker(client redis.UniversalClient, dir string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, key: "sweeper:lock:" + dir, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := l.client.SetNX(cctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func() {
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(uctx, l.client, []string{l.key}, token).Err()
	}
	return unlock, true, nil
}
