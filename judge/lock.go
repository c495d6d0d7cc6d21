package judge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"
)

// Locker serializes work on one sandbox database. The returned unlock
// function must be called exactly once; extra calls are ignored.
type Locker interface {
	Lock(ctx context.Context, testDatabaseID int64) (unlock func(), err error)
}

type keyedLock struct {
	sem  *semaphore.Weighted
	refs int
}

// LocalLocker is an in-process lock per test database id.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[int64]*keyedLock
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: map[int64]*keyedLock{}}
}

func (l *LocalLocker) Lock(ctx context.Context, testDatabaseID int64) (func(), error) {
	l.mu.Lock()
	k, ok := l.locks[testDatabaseID]
	if !ok {
		k = &keyedLock{sem: semaphore.NewWeighted(1)}
		l.locks[testDatabaseID] = k
	}
	k.refs++
	l.mu.Unlock()

	if err := k.sem.Acquire(ctx, 1); err != nil {
		l.release(testDatabaseID, k, false)
		return nil, errors.Wrapf(err, "lock test database %d", testDatabaseID)
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.release(testDatabaseID, k, true) })
	}, nil
}

func (l *LocalLocker) release(id int64, k *keyedLock, held bool) {
	if held {
		k.sem.Release(1)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if k.refs--; k.refs == 0 {
		delete(l.locks, id)
	}
}

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker extends the lock across judge processes sharing the same
// sandbox servers. A lock outlives a crashed holder by at most ttl.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

func NewRedisLocker(client redis.Cmdable, prefix string, ttl, retry time.Duration) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl, retry: retry}
}

func (l *RedisLocker) Lock(ctx context.Context, testDatabaseID int64) (func(), error) {
	key := l.prefix + strconv.FormatInt(testDatabaseID, 10)
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "lock %s", key)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "lock %s", key)
		case <-time.After(l.retry):
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// expiry covers a failed release
			_ = unlockScript.Run(context.Background(), l.client, []string{key}, token).Err()
		})
	}, nil
}

type chainLocker []Locker

// ChainLockers acquires the lockers in order and releases them in reverse.
func ChainLockers(lockers ...Locker) Locker {
	return chainLocker(lockers)
}

func (c chainLocker) Lock(ctx context.Context, testDatabaseID int64) (func(), error) {
	unlocks := make([]func(), 0, len(c))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		unlock, err := l.Lock(ctx, testDatabaseID)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return unlockAll, nil
}
