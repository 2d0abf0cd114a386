package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	return &Config{
		Enabled:         true,
		MaxRetries:      3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastConfig(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, nil)

	require.NoError(t, err)
	require.Equal(t, "ok", result)
	require.Equal(t, 3, calls)
}

func TestDoExhausted(t *testing.T) {
	base := errors.New("always fails")
	calls := 0
	retries := 0

	_, err := Do(context.Background(), fastConfig(), func() (int, error) {
		calls++
		return 0, base
	}, func(err error, attempt int) {
		retries++
	})

	require.Error(t, err)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 4, exhausted.Attempts) // 1 次原始 + 3 次重试
	require.Equal(t, 4, calls)
	require.Equal(t, 3, retries)
	require.ErrorIs(t, err, base)
}

func TestDoDisabled(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false

	calls := 0
	_, err := Do(context.Background(), cfg, func() (int, error) {
		calls++
		return 0, errors.New("nope")
	}, nil)

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, fastConfig(), func() (int, error) {
		return 0, errors.New("fail then wait")
	}, nil)

	require.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelayCapped(t *testing.T) {
	cfg := &Config{
		InitialDelay:    time.Second,
		MaxDelay:        4 * time.Second,
		ExponentialBase: 2.0,
	}

	require.Equal(t, time.Second, cfg.CalculateDelay(0))
	require.Equal(t, 2*time.Second, cfg.CalculateDelay(1))
	require.Equal(t, 4*time.Second, cfg.CalculateDelay(2))
	require.Equal(t, 4*time.Second, cfg.CalculateDelay(5)) // 封顶
}
