package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock guards one job so overlapping ticks, local or across replicas, never
// run it concurrently. TryAcquire returns a release func when the lock was
// taken and ok=false when somebody else holds it.
type Lock interface {
	TryAcquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

// LocalLock serializes jobs inside one process.
type LocalLock struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalLock() *LocalLock {
	return &LocalLock{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalLock) TryAcquire(_ context.Context, name string) (func(), bool, error) {
	l.mu.Lock()
	m, ok := l.locks[name]
	if !ok {
		m = &sync.Mutex{}
		l.locks[name] = m
	}
	l.mu.Unlock()

	if !m.TryLock() {
		return nil, false, nil
	}
	return m.Unlock, true, nil
}

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another replica is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a lease shared by every replica pointing at the same Redis.
// The lease expires after ttl so a crashed holder never blocks the job.
type RedisLock struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisLock(client redis.Cmdable, prefix string, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLock) TryAcquire(ctx context.Context, name string) (func(), bool, error) {
	key := l.prefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// the job context may be gone by now; a failed release just waits
		// for the lease to expire
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
