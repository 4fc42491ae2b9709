// Package cycle drives the registry through repeated scrape cycles.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"tgscraper/internal/eventbus"
	"tgscraper/internal/metrics"
	"tgscraper/internal/registry"
	"tgscraper/internal/runtime/lifecycle"
	"tgscraper/internal/schedule"
	"tgscraper/internal/storage"
	logx "tgscraper/pkg/logx"
)

const (
	OutcomeCompleted = "completed"
	OutcomeAbandoned = "abandoned"
	OutcomeFailed    = "failed"
)

// Settings are re-read at the start of every cycle so config reloads apply
// at cycle boundaries.
type Settings struct {
	Pacer       schedule.Pacer
	Cooldown    time.Duration
	ItemTimeout time.Duration
}

// DefaultSettings waits 300s between cycles and 60s after a failed cycle.
func DefaultSettings() Settings {
	return Settings{
		Pacer:    schedule.Every(300 * time.Second),
		Cooldown: 60 * time.Second,
	}
}

// Recorder persists the cycle audit trail.
type Recorder interface {
	AppendCycle(ctx context.Context, rec storage.CycleRecord) error
}

// Result summarizes one cycle.
type Result struct {
	Number    int
	ID        string
	Items     int
	Attempted int
	Failed    int
	Skipped   int
	Started   time.Time
	Finished  time.Time
}

type Runner struct {
	state  *lifecycle.RunState
	source registry.Source
	exec   registry.Executor

	log      logx.Logger
	bus      eventbus.Bus
	recorder Recorder
	settings func() Settings
	now      func() time.Time

	cycle int
}

type Option func(*Runner)

func WithLogger(log logx.Logger) Option { return func(r *Runner) { r.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(r *Runner) { r.bus = bus } }

func WithRecorder(rec Recorder) Option { return func(r *Runner) { r.recorder = rec } }

// WithSettings installs a provider consulted once per cycle.
func WithSettings(fn func() Settings) Option { return func(r *Runner) { r.settings = fn } }

func NewRunner(state *lifecycle.RunState, source registry.Source, exec registry.Executor, opts ...Option) *Runner {
	r := &Runner{
		state:    state,
		source:   source,
		exec:     exec,
		log:      logx.Nop(),
		bus:      eventbus.Nop(),
		settings: DefaultSettings,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	if r.bus == nil {
		r.bus = eventbus.Nop()
	}
	return r
}

// Run loops until the run state stops or ctx is done. It returns ctx.Err()
// in the latter case and nil otherwise. Items run strictly one at a time and
// cycles never overlap.
func (r *Runner) Run(ctx context.Context) error {
	for r.state.Running() {
		if err := ctx.Err(); err != nil {
			return err
		}
		settings := r.normalized()

		r.cycle++
		res, err := r.runCycle(ctx, r.cycle, settings.ItemTimeout)
		r.finish(ctx, res, err)

		if err != nil {
			fields := []logx.Field{logx.Int("cycle", res.Number), logx.Err(err)}
			var pe *PanicError
			if errors.As(err, &pe) {
				fields = append(fields, logx.Stack(pe.Stack))
			}
			r.log.Error("error in scraping cycle", fields...)
			if !r.state.Running() {
				break
			}
			r.wait(ctx, res.Number, settings.Cooldown, true)
			continue
		}

		if !r.state.Running() {
			break
		}
		r.wait(ctx, res.Number, settings.Pacer.Next(r.now()), false)
	}
	return ctx.Err()
}

func (r *Runner) normalized() Settings {
	s := r.settings()
	if s.Pacer == nil {
		s.Pacer = schedule.Every(300 * time.Second)
	}
	if s.Cooldown < 0 {
		s.Cooldown = 0
	}
	return s
}

func (r *Runner) wait(ctx context.Context, cycle int, d time.Duration, cooldown bool) {
	kind := "interval"
	msg := "waiting " + formatSeconds(d) + " seconds before next cycle"
	if cooldown {
		kind = "cooldown"
		msg = "waiting " + formatSeconds(d) + " seconds before retrying"
	}
	r.log.Info(msg, logx.Int("cycle", cycle), logx.Duration("wait", d))
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TypeWaiting,
		Data: eventbus.WaitData{Cycle: cycle, Duration: d, Cooldown: cooldown},
	})

	start := r.now()
	full := lifecycle.WaitContext(ctx, r.state, d)
	metrics.ObserveWait(kind, r.now().Sub(start))
	if !full {
		r.log.Debug("wait interrupted", logx.Int("cycle", cycle), logx.String("kind", kind))
	}
}

func (r *Runner) runCycle(ctx context.Context, n int, itemTimeout time.Duration) (res Result, err error) {
	res = Result{Number: n, ID: uuid.NewString(), Started: r.now()}
	log := r.log.With(logx.Int("cycle", n))

	defer func() {
		if rec := recover(); rec != nil {
			err = &CycleError{Cycle: n, Err: &PanicError{Value: rec, Stack: string(debug.Stack())}}
		}
		res.Finished = r.now()
	}()

	reg, err := r.source.Snapshot(ctx)
	if err != nil {
		return res, &CycleError{Cycle: n, Err: fmt.Errorf("load registry: %w", err)}
	}
	items := reg.Items()
	res.Items = len(items)

	log.Info("starting scrape cycle", logx.Int("channels", len(items)), logx.String("cycle_id", res.ID))
	r.bus.Publish(eventbus.Event{
		Type: eventbus.TypeCycleStarted,
		Data: eventbus.CycleData{Cycle: n, CycleID: res.ID, Items: len(items)},
	})

	for i, it := range items {
		if !r.state.Running() {
			res.Skipped = len(items) - i
			log.Info("shutdown requested; abandoning cycle", logx.Int("skipped", res.Skipped))
			break
		}
		res.Attempted++

		log.Info("scraping channel", logx.String("channel", it.Name))
		start := r.now()
		itemErr := r.execute(ctx, it, itemTimeout)
		took := r.now().Sub(start)

		if itemErr != nil {
			res.Failed++
			fields := []logx.Field{logx.String("channel", it.Name), logx.Duration("took", took), logx.Err(itemErr)}
			var pe *PanicError
			if errors.As(itemErr, &pe) {
				fields = append(fields, logx.Stack(pe.Stack))
			}
			log.Error("Error scraping channel", fields...)
			metrics.ObserveItem("failed", took)
			r.bus.Publish(eventbus.Event{
				Type: eventbus.TypeItemFailed,
				Data: eventbus.ItemData{Cycle: n, Channel: it.Name, Took: took, Err: itemErr.Error()},
			})
			continue
		}
		metrics.ObserveItem("succeeded", took)
		r.bus.Publish(eventbus.Event{
			Type: eventbus.TypeItemSucceeded,
			Data: eventbus.ItemData{Cycle: n, Channel: it.Name, Took: took},
		})
	}
	return res, nil
}

// execute runs one item, converting panics and applying the optional timeout.
func (r *Runner) execute(ctx context.Context, it registry.Item, timeout time.Duration) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ItemError{Channel: it.Name, Err: &PanicError{Value: rec, Stack: string(debug.Stack())}}
		}
	}()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := r.exec.Execute(ctx, it); err != nil {
		return &ItemError{Channel: it.Name, Err: err}
	}
	return nil
}

func (r *Runner) finish(ctx context.Context, res Result, err error) {
	outcome := OutcomeCompleted
	switch {
	case err != nil:
		outcome = OutcomeFailed
	case res.Skipped > 0:
		outcome = OutcomeAbandoned
	}
	metrics.ObserveCycle(outcome, res.Items)

	data := eventbus.CycleData{
		Cycle:     res.Number,
		CycleID:   res.ID,
		Items:     res.Items,
		Attempted: res.Attempted,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
	}
	typ := eventbus.TypeCycleFinished
	if err != nil {
		typ = eventbus.TypeCycleFailed
		data.Err = err.Error()
	} else {
		r.log.Info("scrape cycle finished",
			logx.Int("cycle", res.Number),
			logx.Int("attempted", res.Attempted),
			logx.Int("failed", res.Failed),
			logx.Int("skipped", res.Skipped),
			logx.Duration("took", res.Finished.Sub(res.Started)),
		)
	}
	r.bus.Publish(eventbus.Event{Type: typ, Data: data})

	if r.recorder == nil {
		return
	}
	rec := storage.CycleRecord{
		ID:         res.ID,
		Number:     res.Number,
		StartedAt:  res.Started,
		FinishedAt: res.Finished,
		Items:      res.Items,
		Attempted:  res.Attempted,
		Failed:     res.Failed,
		Skipped:    res.Skipped,
		Outcome:    outcome,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	// The audit record is written even when shutdown canceled ctx.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := r.recorder.AppendCycle(rctx, rec); rerr != nil && !errors.Is(rerr, storage.ErrDisabled) {
		r.log.Warn("cycle audit write failed", logx.Int("cycle", res.Number), logx.Err(rerr))
	}
}

// formatSeconds renders whole seconds without a fraction ("2", "0.5").
func formatSeconds(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
