// Package service owns the process lifecycle: executor initialization, the
// empty-registry precondition, the scrape loop and a single teardown.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"tgscraper/internal/cycle"
	"tgscraper/internal/eventbus"
	"tgscraper/internal/ops"
	"tgscraper/internal/registry"
	"tgscraper/internal/runtime/lifecycle"
	"tgscraper/internal/runtime/supervisor"
	logx "tgscraper/pkg/logx"
)

// ErrNoChannels is returned by Run when the registry is empty. It is a
// configuration problem and the process exits cleanly.
var ErrNoChannels = errors.New("no channels configured")

// Helper is a background goroutine supervised for the lifetime of the loop.
// Helpers never touch the RunState.
type Helper struct {
	Name    string
	Run     func(ctx context.Context) error
	Restart bool
}

type Service struct {
	state  *lifecycle.RunState
	source registry.Source
	exec   registry.Executor

	log        logx.Logger
	bus        eventbus.Bus
	notifier   Notifier
	watchdog   time.Duration
	runnerOpts []cycle.Option
	helpers    []Helper

	mu  sync.Mutex
	sup *supervisor.Supervisor

	phase     atomic.Value // string
	lastCycle atomic.Int64

	teardownOnce sync.Once
	teardownErr  error
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

// WithBus is shared with the runner; the service listens to it for status
// updates.
func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithWatchdog sends WATCHDOG=1 every d/2 while the loop runs.
func WithWatchdog(d time.Duration) Option { return func(s *Service) { s.watchdog = d } }

func WithRunnerOptions(opts ...cycle.Option) Option {
	return func(s *Service) { s.runnerOpts = append(s.runnerOpts, opts...) }
}

func WithHelper(h Helper) Option {
	return func(s *Service) {
		if h.Run != nil {
			s.helpers = append(s.helpers, h)
		}
	}
}

func New(state *lifecycle.RunState, source registry.Source, exec registry.Executor, opts ...Option) *Service {
	s := &Service{
		state:    state,
		source:   source,
		exec:     exec,
		log:      logx.Nop(),
		bus:      eventbus.Nop(),
		notifier: nopNotifier{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	s.phase.Store("starting")
	return s
}

// Run initializes the executor, checks the registry and drives the loop
// until the RunState stops. Teardown runs exactly once before Run returns,
// whatever the outcome.
func (s *Service) Run(ctx context.Context) error {
	defer func() { _ = s.Teardown(context.Background()) }()

	s.notifier.Notify("STATUS=initializing")
	if err := guard(func() error { return s.exec.Initialize(ctx) }); err != nil {
		s.log.Error("failed to initialize scraper", logx.String("phase", "initialize"), logx.Err(err))
		s.state.RequestStop(lifecycle.StopFatalError)
		return fmt.Errorf("initialize executor: %w", err)
	}

	var reg registry.Registry
	err := guard(func() (err error) {
		reg, err = s.source.Snapshot(ctx)
		return err
	})
	if err != nil {
		s.log.Error("failed to load channel registry", logx.String("phase", "registry"), logx.Err(err))
		s.state.RequestStop(lifecycle.StopFatalError)
		return fmt.Errorf("load registry: %w", err)
	}
	if reg.Empty() {
		s.log.Error("No channels configured")
		s.state.RequestStop(lifecycle.StopNoChannels)
		return ErrNoChannels
	}

	s.startHelpers(ctx)
	s.phase.Store("running")
	s.notifier.Notify("READY=1\nSTATUS=scraping " + strconv.Itoa(reg.Len()) + " channels")
	s.log.Info("service started", logx.Int("channels", reg.Len()), logx.Any("names", reg.Names()))

	runner := cycle.NewRunner(s.state, s.source, s.exec, append([]cycle.Option{
		cycle.WithLogger(s.log.With(logx.String("comp", "cycle"))),
		cycle.WithBus(s.bus),
	}, s.runnerOpts...)...)

	err = s.runLoop(ctx, runner)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		s.log.Error("fatal error in scrape loop", logx.String("phase", "run"), logx.Err(err))
		s.state.RequestStop(lifecycle.StopFatalError)
		return fmt.Errorf("run: %w", err)
	}
	s.state.RequestStop(lifecycle.StopCompleted)
	return nil
}

func (s *Service) runLoop(ctx context.Context, runner *cycle.Runner) error {
	return guard(func() error { return runner.Run(ctx) })
}

// guard turns a panic in fn into a *cycle.PanicError.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &cycle.PanicError{Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}

func (s *Service) startHelpers(ctx context.Context) {
	sup := supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "supervisor"))))
	s.mu.Lock()
	s.sup = sup
	s.mu.Unlock()

	events, unsubscribe := s.bus.Subscribe(32)
	sup.Go("status", func(c context.Context) error {
		defer unsubscribe()
		s.reportStatus(c, events)
		return nil
	})
	if s.watchdog > 0 {
		sup.Go("systemd.watchdog", func(c context.Context) error {
			s.keepAlive(c, s.watchdog/2)
			return nil
		})
	}
	for _, h := range s.helpers {
		if h.Restart {
			sup.GoRestart(h.Name, h.Run, supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
			continue
		}
		sup.Go(h.Name, h.Run)
	}
}

// reportStatus mirrors cycle progress into the systemd status line.
func (s *Service) reportStatus(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch d := ev.Data.(type) {
			case eventbus.CycleData:
				s.lastCycle.Store(int64(d.Cycle))
				if ev.Type == eventbus.TypeCycleFinished {
					s.notifier.Notify(fmt.Sprintf("STATUS=cycle %d: %d attempted, %d failed", d.Cycle, d.Attempted, d.Failed))
				} else if ev.Type == eventbus.TypeCycleFailed {
					s.notifier.Notify(fmt.Sprintf("STATUS=cycle %d failed: %s", d.Cycle, d.Err))
				}
			case eventbus.WaitData:
				s.notifier.Notify("STATUS=waiting " + d.Duration.String() + " after cycle " + strconv.Itoa(d.Cycle))
			}
		}
	}
}

func (s *Service) keepAlive(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.notifier.Notify("WATCHDOG=1")
		}
	}
}

// Readiness feeds the ops /readyz endpoint.
func (s *Service) Readiness() ops.Readiness {
	phase, _ := s.phase.Load().(string)
	rd := ops.Readiness{Phase: phase, Cycle: int(s.lastCycle.Load())}
	s.mu.Lock()
	if s.sup != nil {
		rd.Helpers = s.sup.Snapshot()
	}
	s.mu.Unlock()
	switch {
	case s.state.ShutdownRequested():
		if phase == "running" {
			rd.Phase = "draining"
		}
		rd.Reason = "shutdown requested: " + string(s.state.Reason())
	case phase != "running":
		rd.Reason = phase
	}
	return rd
}

// Teardown stops helpers, then the executor, then tells systemd. Only the
// first call does anything; later calls return the first result.
func (s *Service) Teardown(ctx context.Context) error {
	s.teardownOnce.Do(func() {
		s.teardownErr = s.teardown(ctx)
	})
	return s.teardownErr
}

func (s *Service) teardown(ctx context.Context) error {
	s.log.Info("stopping", logx.String("reason", string(s.state.Reason())))
	s.phase.Store("stopping")
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeStopping, Time: time.Now()})

	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup != nil {
		_ = s.step(ctx, "helpers", 3*time.Second, sup.Stop)
	}

	execErr := s.step(ctx, "executor", 10*time.Second, s.exec.Teardown)

	s.notifier.Notify("STOPPING=1")
	s.phase.Store("stopped")
	s.log.Info("Service stopped")
	return execErr
}

// step runs fn with an upper bound so one component cannot stall teardown.
func (s *Service) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			s.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		s.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return err
	case <-stepCtx.Done():
		s.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		return fmt.Errorf("stop %s: %w", name, stepCtx.Err())
	}
}
