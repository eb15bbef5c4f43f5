// Package throttle counts failed login attempts in Redis.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Limiter struct {
	rdb     redis.Cmdable
	max     int64
	window  time.Duration
	timeout time.Duration
}

func NewLimiter(rdb redis.Cmdable, maxAttempts int, window, timeout time.Duration) *Limiter {
	return &Limiter{
		rdb:     rdb,
		max:     int64(maxAttempts),
		window:  window,
		timeout: timeout,
	}
}

func key(subject string) string {
	return fmt.Sprintf("login_fail_%s", strings.ToLower(subject))
}

// Blocked reports whether subject has used up its failed attempts for the
// current window.
func (l *Limiter) Blocked(ctx context.Context, subject string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	n, err := l.rdb.Get(ctx, key(subject)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}

	return n >= l.max, nil
}

// Fail records a failed attempt. The window starts at the first failure.
// The counter is created with its TTL in the same transaction, so a key
// never outlives the window.
func (l *Limiter) Fail(ctx context.Context, subject string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	k := key(subject)
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, k, 0, l.window)
		pipe.Incr(ctx, k)
		return nil
	})

	return err
}

func (l *Limiter) Reset(ctx context.Context, subject string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	return l.rdb.Del(ctx, key(subject)).Err()
}
