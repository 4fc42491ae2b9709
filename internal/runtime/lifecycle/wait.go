package lifecycle

import (
	"context"
	"time"
)

// Wait suspends for up to d and returns true if the whole duration elapsed.
// It returns false as soon as the state is stopped. A non-positive duration
// never blocks.
func Wait(state *RunState, d time.Duration) bool {
	return WaitContext(context.Background(), state, d)
}

// WaitContext is Wait that also gives up when ctx is done.
func WaitContext(ctx context.Context, state *RunState, d time.Duration) bool {
	if !state.Running() {
		return false
	}
	if d <= 0 {
		return true
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return state.Running()
	case <-state.Done():
		return false
	case <-ctx.Done():
		return false
	}
}
