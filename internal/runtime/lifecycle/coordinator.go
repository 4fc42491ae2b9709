package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	logx "tgscraper/pkg/logx"
)

// Phase is the coordinator's position in the escalation ladder.
type Phase int32

const (
	// Armed: no signal seen yet.
	Armed Phase = iota
	// Draining: first signal seen; RunState is stopped and the loop unwinds.
	Draining
	// Escalated: second signal seen; the process exits without teardown.
	Escalated
)

func (p Phase) String() string {
	switch p {
	case Armed:
		return "armed"
	case Draining:
		return "draining"
	case Escalated:
		return "escalated"
	default:
		return "unknown"
	}
}

// Coordinator turns termination signals into RunState transitions.
//
// The first SIGINT/SIGTERM stops the RunState and fires the registered hints.
// Any further SIGINT/SIGTERM calls the exit function immediately. Teardown is
// skipped on that path on purpose: it is the operator's way to kill a hung
// executor.
type Coordinator struct {
	state *RunState
	log   logx.Logger
	exit  func(code int)

	phase atomic.Int32

	hintsMu sync.Mutex
	hints   []func()

	sigCh    chan os.Signal
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type CoordinatorOption func(*Coordinator)

func WithLogger(log logx.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

// WithExit replaces os.Exit on the escalation path.
func WithExit(fn func(code int)) CoordinatorOption {
	return func(c *Coordinator) {
		if fn != nil {
			c.exit = fn
		}
	}
}

func NewCoordinator(state *RunState, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		state:  state,
		exit:   os.Exit,
		sigCh:  make(chan os.Signal, 2),
		stopCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

// OnShutdown registers a hint fired once on the first signal.
// Hints must not block.
func (c *Coordinator) OnShutdown(fn func()) {
	if fn == nil {
		return
	}
	c.hintsMu.Lock()
	c.hints = append(c.hints, fn)
	c.hintsMu.Unlock()
}

// Phase returns the current escalation phase.
func (c *Coordinator) Phase() Phase { return Phase(c.phase.Load()) }

// Start subscribes to SIGINT/SIGTERM and feeds them to Handle.
func (c *Coordinator) Start() {
	signal.Notify(c.sigCh, os.Interrupt, syscall.SIGTERM)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.stopCh:
				return
			case sig := <-c.sigCh:
				c.Handle(sig)
			}
		}
	}()
}

// Stop unsubscribes from signals. It does not change the phase.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		signal.Stop(c.sigCh)
		close(c.stopCh)
	})
	c.wg.Wait()
}

// Handle applies one signal delivery.
func (c *Coordinator) Handle(sig os.Signal) {
	if c.phase.CompareAndSwap(int32(Armed), int32(Draining)) {
		c.log.Info("signal received, shutting down gracefully",
			logx.String("signal", signalName(sig)),
			logx.String("phase", Draining.String()),
		)
		c.state.RequestStop(reasonFor(sig))

		c.hintsMu.Lock()
		hints := append([]func(){}, c.hints...)
		c.hintsMu.Unlock()
		for _, h := range hints {
			h()
		}
		return
	}

	if c.phase.CompareAndSwap(int32(Draining), int32(Escalated)) {
		c.log.Warn("second signal received, exiting immediately without cleanup",
			logx.String("signal", signalName(sig)),
			logx.String("phase", Escalated.String()),
		)
		c.exit(ExitCode(sig))
	}
}

// ExitCode maps a signal to the conventional 128+signo status.
func ExitCode(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return 128 + int(s)
	}
	return 1
}

func reasonFor(sig os.Signal) StopReason {
	switch sig {
	case os.Interrupt:
		return StopSIGINT
	case syscall.SIGTERM:
		return StopSIGTERM
	default:
		return StopUnknown
	}
}

func signalName(sig os.Signal) string {
	if sig == nil {
		return "<nil>"
	}
	return sig.String()
}
