package poller_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"textcat-backend/internal/poller"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollReturnsFirstTerminalStatus(t *testing.T) {
	states := []poller.Status{
		{State: "STARTING"},
		{State: "RUNNING"},
		{State: "RUNNING"},
		{State: "SUCCEEDED", Terminal: true},
		{State: "NEVER REACHED", Terminal: true},
	}

	calls := 0
	status, err := poller.Poll(context.Background(), time.Millisecond, func(ctx context.Context) (poller.Status, error) {
		s := states[calls]
		calls++
		return s, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "SUCCEEDED", status.State)
	assert.Equal(t, 4, calls)
}

func TestPollReturnsFailedTerminalStatus(t *testing.T) {
	status, err := poller.Poll(context.Background(), time.Millisecond, func(ctx context.Context) (poller.Status, error) {
		return poller.Status{State: "FAILED", Terminal: true, Detail: "executor OOM"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "FAILED", status.State)
	assert.Equal(t, "executor OOM", status.Detail)
}

func TestPollChecksImmediately(t *testing.T) {
	start := time.Now()
	_, err := poller.Poll(context.Background(), time.Hour, func(ctx context.Context) (poller.Status, error) {
		return poller.Status{State: "SUCCEEDED", Terminal: true}, nil
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollWaitsBetweenChecks(t *testing.T) {
	interval := 20 * time.Millisecond
	var times []time.Time

	_, err := poller.Poll(context.Background(), interval, func(ctx context.Context) (poller.Status, error) {
		times = append(times, time.Now())
		return poller.Status{State: "RUNNING", Terminal: len(times) >= 3}, nil
	})
	require.NoError(t, err)
	require.Len(t, times, 3)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), interval)
	}
}

func TestPollStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := poller.Poll(ctx, time.Hour, func(ctx context.Context) (poller.Status, error) {
			return poller.Status{State: "RUNNING"}, nil
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not stop after cancellation")
	}
}

func TestPollPropagatesCheckError(t *testing.T) {
	boom := errors.New("throttled")
	calls := 0
	_, err := poller.Poll(context.Background(), time.Millisecond, func(ctx context.Context) (poller.Status, error) {
		calls++
		return poller.Status{}, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "check errors must not be retried")
}

func TestSucceeded(t *testing.T) {
	require.NoError(t, poller.Succeeded(poller.Status{State: "Completed", Terminal: true}, "Completed"))

	err := poller.Succeeded(poller.Status{State: "Stopped", Terminal: true, Detail: "stopped by user"}, "Completed")
	require.Error(t, err)

	var terminal *poller.TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, "Stopped", terminal.State)
	assert.Contains(t, terminal.Error(), "stopped by user")
}
