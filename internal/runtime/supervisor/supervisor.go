// Package supervisor runs the service's background helpers (config watcher,
// systemd watchdog, ops server) as named goroutines with panic recovery.
// The scrape loop itself never runs here.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "tgscraper/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	active  atomic.Int64
	started atomic.Uint64

	errOnce  sync.Once
	firstErr atomic.Value

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu    sync.Mutex
	tasks map[string]*TaskStats
}

// TaskStats is a best-effort view of one named goroutine. Goroutines sharing
// a name are aggregated.
type TaskStats struct {
	Name      string        `json:"name"`
	Active    int64         `json:"active"`
	Started   uint64        `json:"started"`
	Restarts  uint64        `json:"restarts"`
	Panics    uint64        `json:"panics"`
	LastStart time.Time     `json:"last_start"`
	LastStop  time.Time     `json:"last_stop,omitempty"`
	LastErr   string        `json:"last_err,omitempty"`
	Runtime   time.Duration `json:"runtime"`
}

// Snapshot is what /readyz reports about background helpers.
type Snapshot struct {
	Active     int64       `json:"active"`
	Started    uint64      `json:"started"`
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first error or panic.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		doneCh: make(chan struct{}),
		tasks:  map[string]*TaskStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error recorded by any goroutine.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	snap := Snapshot{Active: s.active.Load(), Started: s.started.Load()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	for _, st := range s.tasks {
		snap.Tasks = append(snap.Tasks, *st)
	}
	s.mu.Unlock()
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}

func (s *Supervisor) task(name string) *TaskStats {
	st := s.tasks[name]
	if st == nil {
		st = &TaskStats{Name: name}
		s.tasks[name] = st
	}
	return st
}

func (s *Supervisor) noteStart(name string, restart bool) time.Time {
	now := time.Now()
	s.mu.Lock()
	st := s.task(name)
	st.Started++
	st.Active++
	st.LastStart = now
	if restart {
		st.Restarts++
	}
	s.mu.Unlock()
	return now
}

func (s *Supervisor) noteStop(name string, startedAt time.Time, err error, panicked bool) {
	now := time.Now()
	s.mu.Lock()
	st := s.task(name)
	if st.Active > 0 {
		st.Active--
	}
	st.LastStop = now
	st.Runtime += now.Sub(startedAt)
	if panicked {
		st.Panics++
	}
	if err != nil {
		st.LastErr = err.Error()
	}
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// run calls fn once, converting a panic into an error.
func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("goroutine panicked",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	return false, fn(s.ctx)
}

// Go runs fn once. A non-nil error other than context.Canceled, or a panic,
// is recorded as the supervisor's error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		startedAt := s.noteStart(name, false)
		s.log.Debug("goroutine started", logx.String("name", name))
		panicked, err := s.run(name, fn)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("%s: %w", name, err)
			s.fail(err)
		}
		s.noteStop(name, startedAt, err, panicked)
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// RestartOption configures GoRestart.
type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff  time.Duration
	maxBackoff  time.Duration
	maxRestarts int
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. Zero means unlimited.
func WithMaxRestarts(n int) RestartOption { return func(c *restartCfg) { c.maxRestarts = n } }

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth a restart. GoRestart records it as the
// supervisor's error and stops the goroutine.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// GoRestart runs fn and restarts it after an error or panic with jittered
// exponential backoff until the context is canceled. A nil return stops it,
// and so does an error wrapped with Permanent.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.maxBackoff < cfg.minBackoff {
		cfg.maxBackoff = cfg.minBackoff
	}

	s.started.Add(1)
	s.active.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)

		backoff := cfg.minBackoff
		restarts := 0
		for s.ctx.Err() == nil {
			startedAt := s.noteStart(name, restarts > 0)
			panicked, err := s.run(name, fn)

			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, startedAt, nil, panicked)
				return
			}
			if err == nil {
				s.noteStop(name, startedAt, nil, false)
				return
			}
			var perm *permanentError
			if errors.As(err, &perm) {
				err = fmt.Errorf("%s: %w", name, perm.err)
				s.noteStop(name, startedAt, err, panicked)
				s.log.Error("goroutine failed permanently", logx.String("name", name), logx.Err(err))
				s.fail(err)
				return
			}
			err = fmt.Errorf("%s: %w", name, err)
			s.noteStop(name, startedAt, err, panicked)

			restarts++
			if time.Since(startedAt) >= 30*time.Second {
				backoff = cfg.minBackoff
			}
			if cfg.maxRestarts > 0 && restarts > cfg.maxRestarts {
				s.log.Error("goroutine gave up after restarts", logx.String("name", name), logx.Int("restarts", restarts-1), logx.Err(err))
				s.fail(err)
				return
			}

			wait := backoff
			if j := int64(wait) / 5; j > 0 {
				wait += time.Duration(time.Now().UnixNano() % (j + 1))
			}
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff *= 2
			if backoff > cfg.maxBackoff {
				backoff = cfg.maxBackoff
			}
		}
	}()
}

// Stop cancels the context and waits for every goroutine or ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}
