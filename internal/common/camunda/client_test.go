package camunda

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"dinner-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(maxRetries int) *Client {
	return &Client{config: &ClientConfig{
		ConnectionTimeout: time.Second,
		RetryConfig:       &RetryConfig{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}}
}

func TestIsRetryableZeebeError(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{fmt.Errorf("rpc error: code = Unavailable desc = connection refused"), true},
		{fmt.Errorf("context deadline exceeded"), true},
		{fmt.Errorf("NOT_FOUND: process definition"), false},
		{fmt.Errorf("permission denied"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.retryable, isRetryableZeebeError(tt.err), tt.err.Error())
	}
}

func TestExecuteWithRetry_RecoversFromTransientErrors(t *testing.T) {
	c := newTestClient(3)
	calls := 0
	err := c.ExecuteWithRetry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("connection reset by peer")
		}
		return nil
	}, "topology")

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteWithRetry_StopsOnPermanentError(t *testing.T) {
	c := newTestClient(3)
	calls := 0
	err := c.ExecuteWithRetry(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("invalid argument")
	}, "publish")

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, errors.ErrCodeWorkflowEngine, errors.CodeOf(err))
	assert.False(t, errors.Normalize(err).Retryable)
}

func TestExecuteWithRetry_Exhausted(t *testing.T) {
	c := newTestClient(2)
	calls := 0
	err := c.ExecuteWithRetry(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("unavailable")
	}, "topology")

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, errors.Normalize(err).Retryable)
}

func TestExecuteWithRetry_PermissionDeniedIsAuth(t *testing.T) {
	c := newTestClient(2)
	err := c.ExecuteWithRetry(context.Background(), func(context.Context) error {
		return fmt.Errorf("rpc error: permission denied")
	}, "topology")

	assert.True(t, stderrors.Is(err, errors.ErrAuth))
}

func TestExecuteWithRetry_Cancelled(t *testing.T) {
	c := newTestClient(5)
	c.config.RetryConfig.BaseDelay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.ExecuteWithRetry(ctx, func(context.Context) error {
		return fmt.Errorf("timeout")
	}, "topology")

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.Canceled))
}
