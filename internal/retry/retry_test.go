package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/go_cart/storefront/internal/apperr"
)

var errNetwork = apperr.Wrap(apperr.KindNetworkError, "cart.get", errors.New("connection reset"))

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []int
	p := Policy{
		MaxAttempts: 3,
		Backoff:     Constant(time.Millisecond),
		OnRetry:     func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) },
	}

	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errNetwork
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 2}, func(context.Context) error {
		calls++
		return errNetwork
	})

	assert.Equal(t, 2, calls)
	assert.True(t, apperr.Is(err, apperr.KindNetworkError))
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	conflict := apperr.New(apperr.KindConflict, "cart.update", "")
	err := Do(context.Background(), Policy{MaxAttempts: 5}, func(context.Context) error {
		calls++
		return conflict
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, conflict, err)
}

func TestDo_CustomPredicate(t *testing.T) {
	calls := 0
	p := Policy{MaxAttempts: 3, Retryable: func(error) bool { return true }}
	err := Do(context.Background(), p, func(context.Context) error {
		calls++
		return errors.New("anything")
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 10, Backoff: Constant(5 * time.Second)}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, p, func(context.Context) error {
		calls++
		return errNetwork
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestValue_ReturnsResult(t *testing.T) {
	v, err := Value(context.Background(), None, func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestExponential(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second, 2)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 800*time.Millisecond, b(4))
	assert.Equal(t, time.Second, b(5))
	assert.Equal(t, time.Second, b(200))
}
