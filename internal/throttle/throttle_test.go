package throttle

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requires a Redis server on localhost:6379, skipped otherwise
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("redis not available: %v", err)
	}

	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return rdb
}

func TestLimiterBlocksAfterMaxAttempts(t *testing.T) {
	rdb := newTestClient(t)
	ctx := context.Background()
	l := NewLimiter(rdb, 3, time.Minute, time.Second)

	subject := fmt.Sprintf("user-%d@example.com", time.Now().UnixNano())
	defer func() {
		_ = l.Reset(ctx, subject)
	}()

	for i := 0; i < 3; i++ {
		blocked, err := l.Blocked(ctx, subject)
		require.NoError(t, err)
		assert.False(t, blocked, "attempt %d", i)
		require.NoError(t, l.Fail(ctx, subject))
	}

	blocked, err := l.Blocked(ctx, subject)
	require.NoError(t, err)
	assert.True(t, blocked)

	ttl, err := rdb.TTL(ctx, key(subject)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestLimiterResetAndCaseInsensitive(t *testing.T) {
	rdb := newTestClient(t)
	ctx := context.Background()
	l := NewLimiter(rdb, 1, time.Minute, time.Second)

	subject := fmt.Sprintf("Mixed-%d@Example.com", time.Now().UnixNano())

	require.NoError(t, l.Fail(ctx, subject))
	blocked, err := l.Blocked(ctx, strings.ToLower(subject))
	require.NoError(t, err)
	assert.True(t, blocked)

	require.NoError(t, l.Reset(ctx, subject))
	blocked, err = l.Blocked(ctx, subject)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestLimiterWindowStartsAtFirstFailure(t *testing.T) {
	rdb := newTestClient(t)
	ctx := context.Background()
	l := NewLimiter(rdb, 5, time.Minute, time.Second)

	subject := fmt.Sprintf("window-%d@example.com", time.Now().UnixNano())
	defer func() {
		_ = l.Reset(ctx, subject)
	}()

	require.NoError(t, l.Fail(ctx, subject))
	first, err := rdb.TTL(ctx, key(subject)).Result()
	require.NoError(t, err)
	assert.Greater(t, first, time.Duration(0))
	assert.LessOrEqual(t, first, time.Minute)

	require.NoError(t, l.Fail(ctx, subject))
	n, err := rdb.Get(ctx, key(subject)).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	second, err := rdb.TTL(ctx, key(subject)).Result()
	require.NoError(t, err)
	assert.Greater(t, second, time.Duration(0))
	assert.LessOrEqual(t, second, first)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "login_fail_jo@example.com", key("Jo@Example.com"))
}
