package cache

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis connects to REDIS_TEST_URL (default localhost, DB 15) and
// skips when no server answers.
func setupTestRedis(t *testing.T) *RedisBackend {
	t.Helper()
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}
	opts, err := goredis.ParseURL(url)
	require.NoError(t, err)
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())

	backend := NewRedisBackendFromClient(client)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestRedisBackend_RoundTripAndClear(t *testing.T) {
	backend := setupTestRedis(t)
	ctx := context.Background()
	c := New(backend, Options{TTL: time.Minute})

	entry := sampleEntry("redis answer [1]")
	entry.Fingerprint = "fp"
	require.NoError(t, c.Put(ctx, entry))

	got, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, entry.Answer, got.Answer)
	assert.Equal(t, entry.Sources, got.Sources)

	require.NoError(t, c.Clear(ctx))
	_, err = c.Get(ctx, "fp")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisBackend_Lock(t *testing.T) {
	backend := setupTestRedis(t)
	ctx := context.Background()

	token, ok, err := backend.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = backend.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A foreign token must not release the lock.
	require.NoError(t, backend.Unlock(ctx, "k", "someone-else"))
	_, ok, _ = backend.Lock(ctx, "k", time.Minute)
	assert.False(t, ok)

	require.NoError(t, backend.Unlock(ctx, "k", token))
	_, ok, err = backend.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisBackend_ClearKeepsHeldLocks(t *testing.T) {
	backend := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, keyPrefix+"fp", []byte("v"), time.Minute))
	token, ok, err := backend.Lock(ctx, "fp", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, backend.Clear(ctx))

	_, err = backend.Get(ctx, keyPrefix+"fp")
	assert.ErrorIs(t, err, ErrMiss)
	_, ok, err = backend.Lock(ctx, "fp", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "clear released a held lock")

	n, err := backend.client.Exists(ctx, lockPrefix+"fp").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, backend.Unlock(ctx, "fp", token))
}

func TestRedisBackend_TwoCachesComputeOnce(t *testing.T) {
	backend := setupTestRedis(t)
	ctx := context.Background()

	// Two Cache instances model two processes sharing one redis.
	a := New(backend, Options{TTL: time.Minute, PollInterval: 5 * time.Millisecond})
	b := New(backend, Options{TTL: time.Minute, PollInterval: 5 * time.Millisecond})

	var calls atomic.Int32
	compute := func(context.Context) (*Entry, bool, error) {
		calls.Add(1)
		time.Sleep(100 * time.Millisecond)
		return sampleEntry("one"), true, nil
	}

	var wg sync.WaitGroup
	for _, c := range []*Cache{a, b} {
		wg.Add(1)
		go func(c *Cache) {
			defer wg.Done()
			entry, _, err := c.GetOrCompute(ctx, "fp", compute)
			assert.NoError(t, err)
			if entry != nil {
				assert.Equal(t, "one", entry.Answer)
			}
		}(c)
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}
