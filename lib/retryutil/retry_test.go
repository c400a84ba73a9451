package retryutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSucceedsOnThirdAttempt(t *testing.T) {
	policy := Policy{Attempts: 3, BaseDelay: time.Millisecond * 10}

	calls := 0
	start := time.Now()
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient failure %d", calls)
		}
		return nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Equal(t, 3, calls)
	// 10ms before the 2nd attempt, 20ms before the 3rd
	require.GreaterOrEqual(t, elapsed, time.Millisecond*30)
}

func TestExhaustsAttempts(t *testing.T) {
	policy := Policy{Attempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	underlying := errors.New("connection reset")
	err := policy.Do(context.Background(), func() error {
		calls++
		return underlying
	})

	require.Equal(t, 3, calls)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	require.ErrorIs(t, err, underlying)
}

func TestPermanentStopsImmediately(t *testing.T) {
	policy := Policy{Attempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	rejected := errors.New("credentials rejected")
	err := policy.Do(context.Background(), func() error {
		calls++
		return Permanent(rejected)
	})

	require.Equal(t, 1, calls)
	require.Equal(t, rejected, err)
	var reqErr *RequestError
	require.False(t, errors.As(err, &reqErr))
}

func TestContextCancelledBetweenAttempts(t *testing.T) {
	policy := Policy{Attempts: 3, BaseDelay: time.Second * 10}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(time.Millisecond * 50)
		cancel()
	}()
	err := policy.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})

	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, context.Canceled)
}
