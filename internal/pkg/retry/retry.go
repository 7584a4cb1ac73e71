// Package retry 提供带指数退避与抖动的通用重试。
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

type Policy struct {
	// MaxRetries 为额外重试次数，0 表示只执行一次。
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

type IsRetryableFunc func(error) bool

// OnRetryFunc attempt 从 1 开始计数。
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Do 执行 fn，遇到可重试错误时按策略退避重试，返回最后一次错误。
func Do[T any](
	ctx context.Context,
	p Policy,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func(context.Context) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2.0
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 10 * time.Millisecond
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}

	backoff := p.InitialBackoff
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff
			if p.Jitter {
				wait += time.Duration(rand.Int63n(int64(backoff)))
			}
			if onRetry != nil {
				onRetry(attempt, lastErr, wait)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("context cancelled while retrying: %w", ctx.Err())
			case <-timer.C:
			}
			backoff = time.Duration(float64(backoff) * p.BackoffFactor)
			if backoff > p.MaxBackoff {
				backoff = p.MaxBackoff
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("operation failed after %d retries: %w", p.MaxRetries, lastErr)
}
