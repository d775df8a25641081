package poller

import (
	"context"
	"fmt"
	"time"
)

// Status is one observation of a remote job. Terminal marks states the job
// can never leave; Poll keeps going until it sees one.
type Status struct {
	State    string
	Terminal bool
	Detail   string
}

// TerminalError reports a job that finished in a terminal state other than
// the one the caller wanted.
type TerminalError struct {
	State  string
	Detail string
}

func (e *TerminalError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("job finished in state %s", e.State)
	}
	return fmt.Sprintf("job finished in state %s: %s", e.State, e.Detail)
}

// Poll checks the job immediately and then once per interval until check
// reports a terminal status, which it returns. There is no backoff and no
// attempt limit; a job that never terminates blocks until ctx is cancelled.
// Errors from check are returned as-is without another attempt, so callers
// see transient API failures instead of the poller hiding them.
func Poll(ctx context.Context, interval time.Duration, check func(ctx context.Context) (Status, error)) (Status, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Status{}, ctx.Err()
		case <-timer.C:
		}

		status, err := check(ctx)
		if err != nil {
			return Status{}, err
		}
		if status.Terminal {
			return status, nil
		}

		timer.Reset(interval)
	}
}

// Succeeded converts a terminal status into an error unless it matches the
// state the caller considers success.
func Succeeded(status Status, succeededState string) error {
	if status.State == succeededState {
		return nil
	}
	return &TerminalError{State: status.State, Detail: status.Detail}
}
