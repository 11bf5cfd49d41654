package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoPassesThroughSuccess(t *testing.T) {
	e := New(0, nil)

	calls := 0
	err := e.Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoPassesThroughOtherErrors(t *testing.T) {
	e := New(0, nil)
	boom := errors.New("boom")

	calls := 0
	err := e.Do(context.Background(), func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesAfterRateLimitExactlyOnce(t *testing.T) {
	e := New(0, nil)

	var waited time.Duration
	e.OnWait = func(d time.Duration) { waited += d }

	// First call is rate limited with a suggested wait; the retry
	// succeeds. Exactly one successful execution must result.
	sends := 0
	calls := 0
	start := time.Now()
	err := e.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &RateLimitError{RetryAfter: time.Second}
		}
		sends++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, sends)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.GreaterOrEqual(t, waited, time.Second)
}

func TestDoAppliesMinimumWaitFloor(t *testing.T) {
	e := New(0, nil)

	var waited time.Duration
	e.OnWait = func(d time.Duration) { waited = d }

	calls := 0
	err := e.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			// Server suggests no wait at all; the floor still applies.
			return &RateLimitError{RetryAfter: 0}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, minWait, waited)
}

func TestDoReraisesWhenRetryCapExceeded(t *testing.T) {
	e := New(2, nil)

	calls := 0
	err := e.Do(context.Background(), func() error {
		calls++
		return &RateLimitError{RetryAfter: time.Millisecond}
	})

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, calls)
}

func TestDoAbortsSleepOnContextCancel(t *testing.T) {
	e := New(0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := e.Do(ctx, func() error {
		return &RateLimitError{RetryAfter: time.Hour}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDoValue(t *testing.T) {
	e := New(0, nil)

	calls := 0
	value, err := DoValue(context.Background(), e, func() (string, error) {
		calls++
		if calls == 1 {
			return "", &RateLimitError{RetryAfter: time.Millisecond}
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", value)
}
