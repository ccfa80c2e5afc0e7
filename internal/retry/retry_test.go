package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	calls []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func failingTimes(k int, value string) (func(context.Context) (string, error), *int) {
	attempts := 0
	return func(context.Context) (string, error) {
		attempts++
		if attempts <= k {
			return "", &TransportError{URL: "http://embed", StatusCode: 503}
		}
		return value, nil
	}, &attempts
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	for k := 0; k < 3; k++ {
		rec := &sleepRecorder{}
		action, attempts := failingTimes(k, "ok")

		got, err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: 2 * time.Second, Sleep: rec.sleep}, action)

		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, k+1, *attempts)
		assert.Len(t, rec.calls, k, "one sleep per failed attempt")
		for _, d := range rec.calls {
			assert.Equal(t, 2*time.Second, d, "backoff is constant")
		}
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	rec := &sleepRecorder{}
	action, attempts := failingTimes(10, "never")

	_, err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: time.Second, Sleep: rec.sleep}, action)

	require.Error(t, err)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, 3, *attempts)
	assert.Len(t, rec.calls, 2)

	var transport *TransportError
	assert.ErrorAs(t, err, &transport)
}

func TestDo_MalformedIsNotRetried(t *testing.T) {
	rec := &sleepRecorder{}
	attempts := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3, Sleep: rec.sleep}, func(context.Context) (int, error) {
		attempts++
		return 0, &MalformedResponseError{URL: "http://embed", Reason: "missing embedding"}
	})

	var malformed *MalformedResponseError
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, rec.calls)
}

func TestDo_PermanentUnwrapped(t *testing.T) {
	sentinel := errors.New("bad request body")
	attempts := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 5, Sleep: (&sleepRecorder{}).sleep}, func(context.Context) (int, error) {
		attempts++
		return 0, Permanent(sentinel)
	})

	assert.Same(t, sentinel, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, err := Do(ctx, Policy{MaxAttempts: 3, Backoff: time.Hour}, func(context.Context) (int, error) {
		attempts++
		return 0, &TransportError{URL: "http://embed", Err: errors.New("connection refused")}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_, err := Do(context.Background(), Policy{}, func(context.Context) (int, error) {
		attempts++
		return 0, errors.New("down")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
