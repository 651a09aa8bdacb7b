package fallback_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luinog1/crumble-engine/pkg/fallback"
)

func TestSequential_FirstWinnerShortCircuits(t *testing.T) {
	var thirdCalled atomic.Bool
	attempts := []fallback.Attempt[string]{
		func(context.Context) (string, error) { return "", errors.New("boom") },
		func(context.Context) (string, error) { return "winner", nil },
		func(context.Context) (string, error) { thirdCalled.Store(true); return "loser", nil },
	}

	value, index, err := fallback.Sequential(context.Background(), attempts, func(s string) bool { return s != "" })
	require.NoError(t, err)
	assert.Equal(t, "winner", value)
	assert.Equal(t, 1, index)
	assert.False(t, thirdCalled.Load())
}

func TestSequential_PredicateRejectionContinues(t *testing.T) {
	attempts := []fallback.Attempt[int]{
		func(context.Context) (int, error) { return 0, nil },
		func(context.Context) (int, error) { return 7, nil },
	}

	value, index, err := fallback.Sequential(context.Background(), attempts, func(n int) bool { return n > 0 })
	require.NoError(t, err)
	assert.Equal(t, 7, value)
	assert.Equal(t, 1, index)
}

func TestSequential_Exhausted(t *testing.T) {
	attempts := []fallback.Attempt[string]{
		func(context.Context) (string, error) { return "", errors.New("first down") },
		func(context.Context) (string, error) { return "", errors.New("second down") },
	}

	_, index, err := fallback.Sequential(context.Background(), attempts, func(s string) bool { return s != "" })
	assert.Equal(t, -1, index)
	require.ErrorIs(t, err, fallback.ErrExhausted)
	assert.ErrorContains(t, err, "second down")
}

func TestSequential_ExhaustedWithoutErrors(t *testing.T) {
	attempts := []fallback.Attempt[string]{
		func(context.Context) (string, error) { return "", nil },
	}

	_, _, err := fallback.Sequential(context.Background(), attempts, func(s string) bool { return s != "" })
	assert.ErrorIs(t, err, fallback.ErrExhausted)
}

func TestSequential_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var called atomic.Bool
	attempts := []fallback.Attempt[string]{
		func(context.Context) (string, error) { called.Store(true); return "x", nil },
	}

	_, _, err := fallback.Sequential(ctx, attempts, func(string) bool { return true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called.Load())
}

func TestParallel_PreservesAttemptOrder(t *testing.T) {
	gate := make(chan struct{})
	attempts := []fallback.Attempt[string]{
		func(context.Context) (string, error) { <-gate; return "slow", nil },
		func(context.Context) (string, error) { close(gate); return "fast", nil },
		func(context.Context) (string, error) { return "", errors.New("down") },
	}

	outcomes := fallback.Parallel(context.Background(), attempts)
	require.Len(t, outcomes, 3)

	assert.Equal(t, "slow", outcomes[0].Value)
	assert.Equal(t, "fast", outcomes[1].Value)
	assert.EqualError(t, outcomes[2].Err, "down")
}

func TestParallel_Empty(t *testing.T) {
	outcomes := fallback.Parallel[string](context.Background(), nil)
	assert.Empty(t, outcomes)
}
