package fallback_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-server/shared/fallback"
)

func TestExecutor_NonTransientIsNotRetried(t *testing.T) {
	exec := &fallback.Executor{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	wantErr := errors.New("permission denied")
	err := exec.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, calls, "infrastructure errors must not consume retries")
}

func TestExecutor_ContentPolicyIsNotRetried(t *testing.T) {
	exec := &fallback.Executor{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := exec.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fallback.MarkContentPolicy(errors.New("blocked"))
	})

	require.Error(t, err)
	assert.Equal(t, fallback.ClassContentPolicy, fallback.Classify(err))
	assert.Equal(t, 1, calls)
}

func TestExecutor_TransientRetriedUpToBound(t *testing.T) {
	exec := &fallback.Executor{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := exec.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fallback.MarkTransient(errors.New("rate limited"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, fallback.ClassTransient, fallback.Classify(err))
}

func TestExecutor_TransientSucceedsAfterRetry(t *testing.T) {
	exec := &fallback.Executor{MaxAttempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := exec.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return fallback.ErrEmptyModelResponse
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestExecutor_ContextCancelledDuringBackoff(t *testing.T) {
	exec := &fallback.Executor{MaxAttempts: 5, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := exec.Do(ctx, func(ctx context.Context) error {
		return fallback.MarkTransient(errors.New("rate limited"))
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassify_Defaults(t *testing.T) {
	assert.Equal(t, fallback.ClassInfrastructure, fallback.Classify(errors.New("anything")))
	assert.Equal(t, fallback.ClassTransient, fallback.Classify(fallback.ErrEmptyModelResponse))
	assert.Equal(t, fallback.ClassContentPolicy, fallback.Classify(fallback.MarkContentPolicy(errors.New("x"))))
	// Wrapping keeps the class visible.
	wrapped := errors.Join(errors.New("outer"), fallback.MarkTransient(errors.New("inner")))
	assert.Equal(t, fallback.ClassTransient, fallback.Classify(wrapped))
}
