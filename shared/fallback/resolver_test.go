package fallback_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storybook-server/shared/fallback"
)

func newTestResolver() *fallback.Resolver {
	exec := &fallback.Executor{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return fallback.NewResolver(exec, zap.NewNop())
}

type attemptKey struct {
	Model string
	Style string
}

func TestResolve_ContentPolicyAdvancesStyleThenModel(t *testing.T) {
	r := newTestResolver()

	var calls []attemptKey
	attempt := func(ctx context.Context, model, style string) ([]byte, string, error) {
		calls = append(calls, attemptKey{model, style})
		if model == "model-a" {
			return nil, "", fallback.MarkContentPolicy(errors.New("safety filter rejected prompt"))
		}
		return []byte("image"), "image/png", nil
	}

	data, mime, prov, err := r.Resolve(context.Background(),
		[]string{"model-a", "model-b"},
		[]string{"style-1", "style-2", "style-3"},
		attempt,
	)

	require.NoError(t, err)
	assert.Equal(t, []byte("image"), data)
	assert.Equal(t, "image/png", mime)

	// Every style under model-a first, then the first style under model-b.
	expected := []attemptKey{
		{"model-a", "style-1"},
		{"model-a", "style-2"},
		{"model-a", "style-3"},
		{"model-b", "style-1"},
	}
	assert.Equal(t, expected, calls)

	require.NotNil(t, prov)
	assert.Equal(t, 1, prov.ModelIndex)
	assert.Equal(t, 0, prov.StyleIndex)
	assert.Equal(t, "model-b", prov.Model)
	assert.Equal(t, 4, prov.Attempts)
}

func TestResolve_InfrastructureErrorSkipsRemainingStyles(t *testing.T) {
	r := newTestResolver()

	var calls []attemptKey
	attempt := func(ctx context.Context, model, style string) ([]byte, string, error) {
		calls = append(calls, attemptKey{model, style})
		if model == "model-a" {
			return nil, "", errors.New("invalid api key")
		}
		return []byte("image"), "image/png", nil
	}

	_, _, prov, err := r.Resolve(context.Background(),
		[]string{"model-a", "model-b"},
		[]string{"style-1", "style-2", "style-3"},
		attempt,
	)

	require.NoError(t, err)
	// model-a must not be retried with style-2/style-3.
	expected := []attemptKey{
		{"model-a", "style-1"},
		{"model-b", "style-1"},
	}
	assert.Equal(t, expected, calls)
	assert.Equal(t, "model-b", prov.Model)
}

func TestResolve_ExhaustionReturnsExhaustedError(t *testing.T) {
	r := newTestResolver()

	attempt := func(ctx context.Context, model, style string) ([]byte, string, error) {
		return nil, "", fallback.MarkContentPolicy(fmt.Errorf("rejected %s/%s", model, style))
	}

	data, _, prov, err := r.Resolve(context.Background(),
		[]string{"model-a", "model-b"},
		[]string{"style-1", "style-2"},
		attempt,
	)

	require.Error(t, err)
	assert.Nil(t, data)
	assert.Nil(t, prov)

	var exhausted *fallback.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 4)
	assert.Equal(t, fallback.ClassContentPolicy, exhausted.Attempts[0].Class)
}

func TestResolve_TransientFailuresAreRetriedInPlace(t *testing.T) {
	r := newTestResolver()

	callCount := 0
	attempt := func(ctx context.Context, model, style string) ([]byte, string, error) {
		callCount++
		if callCount < 3 {
			return nil, "", fallback.ErrEmptyModelResponse
		}
		return []byte("image"), "image/png", nil
	}

	_, _, prov, err := r.Resolve(context.Background(), []string{"model-a"}, []string{"style-1"}, attempt)

	require.NoError(t, err)
	assert.Equal(t, 3, callCount)
	// Transient retries are invisible to the resolver: one logical attempt.
	assert.Equal(t, 1, prov.Attempts)
	assert.Equal(t, 0, prov.ModelIndex)
}

func TestResolveText_SafetyRejectionFallsToSecondModel(t *testing.T) {
	r := newTestResolver()

	var models []string
	attempt := func(ctx context.Context, model string) (string, error) {
		models = append(models, model)
		if model == "primary" {
			return "", fallback.MarkContentPolicy(errors.New("prompt blocked"))
		}
		return "a story", nil
	}

	text, prov, err := r.ResolveText(context.Background(), []string{"primary", "backup"}, attempt)

	require.NoError(t, err)
	assert.Equal(t, "a story", text)
	// Text has no style axis: the safety rejection retries the whole generation
	// exactly once on the fallback model.
	assert.Equal(t, []string{"primary", "backup"}, models)
	assert.Equal(t, 1, prov.ModelIndex)
}

func TestResolveText_AllModelsFail(t *testing.T) {
	r := newTestResolver()

	attempt := func(ctx context.Context, model string) (string, error) {
		return "", errors.New("quota exceeded")
	}

	_, _, err := r.ResolveText(context.Background(), []string{"primary", "backup"}, attempt)

	var exhausted *fallback.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Len(t, exhausted.Attempts, 2)
}
