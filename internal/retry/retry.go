package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config 重试配置（指数退避）
type Config struct {
	Enabled         bool
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// DefaultConfig 默认重试配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		MaxRetries:      3,
		InitialDelay:    time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
	}
}

// CalculateDelay 计算第 attempt 次重试前的等待时间
func (c *Config) CalculateDelay(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.ExponentialBase, float64(attempt))
	return time.Duration(math.Min(delay, float64(c.MaxDelay)))
}

// ExhaustedError 所有重试均失败
type ExhaustedError struct {
	LastError error
	Attempts  int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastError
}

// OnRetryFunc 每次重试前的回调
type OnRetryFunc func(err error, attempt int)

// Do 执行 fn，失败则按配置退避重试。
// ctx 取消时立即返回 ctx.Err()，不再发起新的尝试。
func Do[T any](ctx context.Context, cfg *Config, fn func() (T, error), onRetry OnRetryFunc) (T, error) {
	var zero T

	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return fn()
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			break
		}

		if onRetry != nil {
			onRetry(err, attempt+1)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.CalculateDelay(attempt)):
		}
	}

	return zero, &ExhaustedError{LastError: lastErr, Attempts: cfg.MaxRetries + 1}
}
