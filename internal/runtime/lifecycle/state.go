// Package lifecycle holds the run/stop primitives shared by the main loop and
// the signal-handling goroutine: RunState, the escalating shutdown
// Coordinator and the interruptible Wait.
package lifecycle

import (
	"sync"
	"sync/atomic"
)

// StopReason is used for structured shutdown tracing.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopNoChannels StopReason = "no_channels"
	StopCompleted  StopReason = "completed"
)

// RunState is the only state shared between the signal handler and the loop.
//
// Invariants:
//   - shutdownRequested never reverts to false once set.
//   - Running() is false whenever shutdownRequested is true.
//   - Done() is closed exactly once, on the first RequestStop.
type RunState struct {
	running           atomic.Bool
	shutdownRequested atomic.Bool

	reason atomic.Value // StopReason

	once sync.Once
	done chan struct{}
}

// NewRunState returns a state that is running and has no stop request.
func NewRunState() *RunState {
	s := &RunState{done: make(chan struct{})}
	s.running.Store(true)
	s.reason.Store(StopUnknown)
	return s
}

// Running reports whether the loop should continue.
func (s *RunState) Running() bool {
	return s.running.Load() && !s.shutdownRequested.Load()
}

// ShutdownRequested reports whether a stop has been asked for.
func (s *RunState) ShutdownRequested() bool {
	return s.shutdownRequested.Load()
}

// RequestStop records a stop request. It reports whether this call performed
// the transition; later calls are no-ops.
func (s *RunState) RequestStop(reason StopReason) bool {
	first := false
	s.once.Do(func() {
		first = true
		s.reason.Store(reason)
		s.shutdownRequested.Store(true)
		s.running.Store(false)
		close(s.done)
	})
	return first
}

// Done is closed when a stop is requested.
func (s *RunState) Done() <-chan struct{} { return s.done }

// Reason returns why the stop was requested (StopUnknown while running).
func (s *RunState) Reason() StopReason {
	r, _ := s.reason.Load().(StopReason)
	return r
}
