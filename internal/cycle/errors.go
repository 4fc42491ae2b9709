package cycle

import "fmt"

// ItemError is a failure of a single channel. It never aborts the cycle.
type ItemError struct {
	Channel string
	Err     error
}

func (e *ItemError) Error() string { return fmt.Sprintf("channel %s: %v", e.Channel, e.Err) }

func (e *ItemError) Unwrap() error { return e.Err }

// CycleError is a failure outside per-item handling. The loop cools down and
// starts a fresh cycle.
type CycleError struct {
	Cycle int
	Err   error
}

func (e *CycleError) Error() string { return fmt.Sprintf("cycle %d: %v", e.Cycle, e.Err) }

func (e *CycleError) Unwrap() error { return e.Err }

// PanicError carries a recovered panic value and its stack.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }
