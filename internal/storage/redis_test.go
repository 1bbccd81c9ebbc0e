package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnl-tracker/internal/config"
	apperrors "github.com/pnl-tracker/internal/errors"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLocker(NewRedisCacheFromClient(client), ttl, nil)
	l.pollInterval = 5 * time.Millisecond
	return l, mr
}

func TestRedisLocker_LockAndRelease(t *testing.T) {
	l, mr := newTestLocker(t, time.Minute)
	ctx := testContext(t)

	release, err := l.Lock(ctx, "kraken/main")
	require.NoError(t, err)
	assert.True(t, mr.Exists("pnl:lock:kraken/main"))
	assert.Equal(t, time.Minute, mr.TTL("pnl:lock:kraken/main"))

	release()
	assert.False(t, mr.Exists("pnl:lock:kraken/main"))
}

func TestRedisLocker_BusyUntilContextDone(t *testing.T) {
	l, _ := newTestLocker(t, time.Minute)

	release, err := l.Lock(testContext(t), "kraken/main")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(testContext(t), 30*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "kraken/main")
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryConflict))
}

func TestRedisLocker_DifferentKeysIndependent(t *testing.T) {
	l, _ := newTestLocker(t, time.Minute)
	ctx := testContext(t)

	r1, err := l.Lock(ctx, "kraken/a")
	require.NoError(t, err)
	r2, err := l.Lock(ctx, "kraken/b")
	require.NoError(t, err)
	r1()
	r2()
}

func TestRedisLocker_ReleaseDoesNotDeleteForeignToken(t *testing.T) {
	l, mr := newTestLocker(t, time.Minute)

	release, err := l.Lock(testContext(t), "kraken/main")
	require.NoError(t, err)

	// lock expired and was taken by someone else
	require.NoError(t, mr.Set("pnl:lock:kraken/main", "other-holder"))
	release()

	got, err := mr.Get("pnl:lock:kraken/main")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestRedisLocker_ExpiredLockCanBeTaken(t *testing.T) {
	l, mr := newTestLocker(t, time.Second)

	_, err := l.Lock(testContext(t), "kraken/main")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := l.Lock(testContext(t), "kraken/main")
	require.NoError(t, err)
	release()
}

func TestRedisLocker_MutualExclusion(t *testing.T) {
	l, _ := newTestLocker(t, time.Minute)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(testContext(t), "kraken/main")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	_, err := NewRedisCache(&config.RedisConfig{Host: "127.0.0.1", Port: "1", MaxConnections: 1})
	assert.Error(t, err)
}

func TestNewRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(&config.RedisConfig{Host: mr.Host(), Port: mr.Port(), MaxConnections: 2})
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	assert.NoError(t, cache.Ping(testContext(t)))
	assert.NotNil(t, cache.Client())
}
