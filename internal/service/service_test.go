package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tgscraper/internal/config"
	"tgscraper/internal/cycle"
	"tgscraper/internal/eventbus"
	"tgscraper/internal/registry"
	"tgscraper/internal/runtime/lifecycle"
	"tgscraper/internal/schedule"
	logx "tgscraper/pkg/logx"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fakeExecutor struct {
	initErr   error
	initPanic any
	execute   func(ctx context.Context, it registry.Item) error

	initCalls     atomic.Int32
	executeCalls  atomic.Int32
	hintCalls     atomic.Int32
	teardownCalls atomic.Int32
}

func (f *fakeExecutor) Initialize(context.Context) error {
	f.initCalls.Add(1)
	if f.initPanic != nil {
		panic(f.initPanic)
	}
	return f.initErr
}

func (f *fakeExecutor) Execute(ctx context.Context, it registry.Item) error {
	f.executeCalls.Add(1)
	if f.execute != nil {
		return f.execute(ctx, it)
	}
	return nil
}

func (f *fakeExecutor) ShutdownHint() { f.hintCalls.Add(1) }

func (f *fakeExecutor) Teardown(context.Context) error {
	f.teardownCalls.Add(1)
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	states []string
}

func (r *recordingNotifier) Notify(state string) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recordingNotifier) has(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.states {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func staticSource(t *testing.T, names ...string) registry.Source {
	t.Helper()
	items := make([]registry.Item, 0, len(names))
	for _, n := range names {
		items = append(items, registry.Item{Name: n})
	}
	reg, err := registry.New(items...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return registry.Static(reg)
}

func hourly() cycle.Option {
	return cycle.WithSettings(func() cycle.Settings {
		return cycle.Settings{Pacer: schedule.Every(time.Hour), Cooldown: time.Hour}
	})
}

func runAsync(s *Service, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func waitErr(t *testing.T, done <-chan error, within time.Duration) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(within):
		t.Fatalf("Run did not return within %s", within)
		return nil
	}
}

func TestInitializeFailureIsFatal(t *testing.T) {
	state := lifecycle.NewRunState()
	exec := &fakeExecutor{initErr: errors.New("database locked")}
	notif := &recordingNotifier{}
	buf := &syncBuffer{}

	s := New(state, staticSource(t, "a"), exec, WithNotifier(notif), WithLogger(logx.NewJSON(buf, "debug")))
	err := s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "database locked") {
		t.Fatalf("Run err = %v", err)
	}
	if errors.Is(err, ErrNoChannels) {
		t.Fatal("init failure must not look like an empty registry")
	}
	if exec.executeCalls.Load() != 0 {
		t.Fatalf("Execute called %d times", exec.executeCalls.Load())
	}
	if exec.teardownCalls.Load() != 1 {
		t.Fatalf("Teardown called %d times, want 1", exec.teardownCalls.Load())
	}
	if state.Running() || state.Reason() != lifecycle.StopFatalError {
		t.Fatalf("state running=%v reason=%s", state.Running(), state.Reason())
	}
	if !notif.has("STOPPING=1") || notif.has("READY=1") {
		t.Fatalf("notifications = %v", notif.states)
	}
	if !strings.Contains(buf.String(), "Service stopped") {
		t.Fatalf("missing stop log:\n%s", buf.String())
	}
}

func TestStartupPanicsAreFatal(t *testing.T) {
	tests := []struct {
		name   string
		exec   *fakeExecutor
		source registry.Source
	}{
		{
			name:   "initialize",
			exec:   &fakeExecutor{initPanic: "driver exploded"},
			source: staticSource(t, "a"),
		},
		{
			name: "registry",
			exec: &fakeExecutor{},
			source: registry.SourceFunc(func(context.Context) (registry.Registry, error) {
				panic("bad registry")
			}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := lifecycle.NewRunState()
			buf := &syncBuffer{}
			s := New(state, tt.source, tt.exec, WithLogger(logx.NewJSON(buf, "debug")))

			err := s.Run(context.Background())
			var pe *cycle.PanicError
			if !errors.As(err, &pe) {
				t.Fatalf("Run err = %v, want a panic error", err)
			}
			if tt.exec.executeCalls.Load() != 0 {
				t.Fatalf("Execute called %d times", tt.exec.executeCalls.Load())
			}
			if tt.exec.teardownCalls.Load() != 1 {
				t.Fatalf("Teardown called %d times, want 1", tt.exec.teardownCalls.Load())
			}
			if state.Reason() != lifecycle.StopFatalError {
				t.Fatalf("reason = %s", state.Reason())
			}
			if !strings.Contains(buf.String(), "Service stopped") {
				t.Fatalf("missing stop log:\n%s", buf.String())
			}
		})
	}
}

func TestEmptyRegistryStopsCleanly(t *testing.T) {
	state := lifecycle.NewRunState()
	exec := &fakeExecutor{}
	buf := &syncBuffer{}
	bus := eventbus.New()
	events, unsubscribe := bus.Subscribe(16)
	defer unsubscribe()

	s := New(state, staticSource(t), exec, WithLogger(logx.NewJSON(buf, "debug")), WithBus(bus))
	start := time.Now()
	err := s.Run(context.Background())
	if !errors.Is(err, ErrNoChannels) {
		t.Fatalf("Run err = %v, want ErrNoChannels", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("empty registry must not wait")
	}
	if exec.executeCalls.Load() != 0 {
		t.Fatalf("Execute called %d times", exec.executeCalls.Load())
	}
	if exec.teardownCalls.Load() != 1 {
		t.Fatalf("Teardown called %d times", exec.teardownCalls.Load())
	}
	if state.Reason() != lifecycle.StopNoChannels {
		t.Fatalf("reason = %s", state.Reason())
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"error"`) || !strings.Contains(out, "No channels configured") {
		t.Fatalf("expected error log, got:\n%s", out)
	}
	for {
		select {
		case ev := <-events:
			if ev.Type == eventbus.TypeWaiting || ev.Type == eventbus.TypeCycleStarted {
				t.Fatalf("unexpected event %s", ev.Type)
			}
			continue
		default:
		}
		break
	}
}

func TestStopDuringWaitTearsDownOnce(t *testing.T) {
	state := lifecycle.NewRunState()
	exec := &fakeExecutor{}
	notif := &recordingNotifier{}
	bus := eventbus.New()
	waiting, unsubscribe := bus.Subscribe(16)
	defer unsubscribe()

	s := New(state, staticSource(t, "a", "b"), exec,
		WithBus(bus),
		WithNotifier(notif),
		WithRunnerOptions(hourly()),
	)
	done := runAsync(s, context.Background())

	deadline := time.After(2 * time.Second)
	for waitingSeen := false; !waitingSeen; {
		select {
		case ev := <-waiting:
			waitingSeen = ev.Type == eventbus.TypeWaiting
		case <-deadline:
			t.Fatal("runner never reached the inter-cycle wait")
		}
	}

	rd := s.Readiness()
	if rd.Phase != "running" || rd.Reason != "" {
		t.Fatalf("readiness while waiting = %+v", rd)
	}

	state.RequestStop(lifecycle.StopSIGTERM)
	if err := waitErr(t, done, time.Second); err != nil {
		t.Fatalf("Run err = %v", err)
	}
	if got := exec.executeCalls.Load(); got != 2 {
		t.Fatalf("Execute calls = %d, want 2", got)
	}
	if err := s.Teardown(context.Background()); err != nil {
		t.Fatalf("second Teardown: %v", err)
	}
	if got := exec.teardownCalls.Load(); got != 1 {
		t.Fatalf("Teardown calls = %d, want 1", got)
	}
	if state.Reason() != lifecycle.StopSIGTERM {
		t.Fatalf("reason = %s", state.Reason())
	}
	if !notif.has("READY=1") || !notif.has("STOPPING=1") {
		t.Fatalf("notifications = %v", notif.states)
	}
	if rd := s.Readiness(); rd.Reason == "" {
		t.Fatalf("readiness after stop = %+v", rd)
	}
}

func TestItemFailuresDoNotStopService(t *testing.T) {
	state := lifecycle.NewRunState()
	exec := &fakeExecutor{}
	exec.execute = func(ctx context.Context, it registry.Item) error {
		if it.Name == "b" {
			return errors.New("channel is private")
		}
		if it.Name == "c" {
			state.RequestStop(lifecycle.StopSIGINT)
		}
		return nil
	}
	s := New(state, staticSource(t, "a", "b", "c"), exec, WithRunnerOptions(hourly()))
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run err = %v", err)
	}
	if got := exec.executeCalls.Load(); got != 3 {
		t.Fatalf("Execute calls = %d, want 3", got)
	}
}

func TestContextCancelIsCleanStop(t *testing.T) {
	state := lifecycle.NewRunState()
	exec := &fakeExecutor{}
	s := New(state, staticSource(t, "a"), exec, WithRunnerOptions(hourly()))

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(s, ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	if err := waitErr(t, done, time.Second); err != nil {
		t.Fatalf("Run err = %v", err)
	}
	if exec.teardownCalls.Load() != 1 {
		t.Fatalf("Teardown calls = %d", exec.teardownCalls.Load())
	}
}

func TestHelpersStopBeforeExecutorTeardown(t *testing.T) {
	state := lifecycle.NewRunState()
	exec := &fakeExecutor{}

	var (
		started     = make(chan struct{})
		helperDone  atomic.Bool
		orderBroken atomic.Bool
	)
	exec.execute = func(context.Context, registry.Item) error {
		<-started
		state.RequestStop(lifecycle.StopSIGINT)
		return nil
	}
	teardownCheck := &teardownOrderExecutor{fakeExecutor: exec, helperDone: &helperDone, broken: &orderBroken}

	s := New(state, staticSource(t, "a"), teardownCheck,
		WithRunnerOptions(hourly()),
		WithHelper(Helper{Name: "blocker", Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			helperDone.Store(true)
			return ctx.Err()
		}}),
	)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run err = %v", err)
	}
	if !helperDone.Load() || orderBroken.Load() {
		t.Fatal("helper was not stopped before executor teardown")
	}
}

type teardownOrderExecutor struct {
	*fakeExecutor
	helperDone *atomic.Bool
	broken     *atomic.Bool
}

func (e *teardownOrderExecutor) Teardown(ctx context.Context) error {
	if !e.helperDone.Load() {
		e.broken.Store(true)
	}
	return e.fakeExecutor.Teardown(ctx)
}

func TestWatchdogKeepAlive(t *testing.T) {
	state := lifecycle.NewRunState()
	notif := &recordingNotifier{}
	exec := &fakeExecutor{}
	exec.execute = func(context.Context, registry.Item) error {
		time.Sleep(80 * time.Millisecond)
		state.RequestStop(lifecycle.StopSIGTERM)
		return nil
	}
	s := New(state, staticSource(t, "a"), exec,
		WithNotifier(notif),
		WithWatchdog(20*time.Millisecond),
		WithRunnerOptions(hourly()),
	)
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run err = %v", err)
	}
	if !notif.has("WATCHDOG=1") {
		t.Fatalf("no watchdog ping in %v", notif.states)
	}
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.Default()
	cfg.Scrape.Interval = "2"
	cfg.Scrape.Cooldown = "5s"
	cfg.Scrape.ItemTimeout = "30s"

	current := cfg
	settings := SettingsFrom(func() *config.Config { return current }, logx.Nop())
	got := settings()
	if d := got.Pacer.Next(time.Now()); d != 2*time.Second {
		t.Fatalf("interval = %s", d)
	}
	if got.Cooldown != 5*time.Second || got.ItemTimeout != 30*time.Second {
		t.Fatalf("settings = %+v", got)
	}

	next := *cfg
	next.Scrape.Schedule = "@every 10m"
	current = &next
	if d := settings().Pacer.Next(time.Now()); d != 10*time.Minute {
		t.Fatalf("scheduled wait = %s", d)
	}

	current = nil
	if d := settings().Pacer.Next(time.Now()); d != 300*time.Second {
		t.Fatalf("default wait = %s", d)
	}
}

func TestSettingsFromEnvIntervalBeatsSchedule(t *testing.T) {
	t.Setenv(config.IntervalEnv, "2")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("scrape:\n  schedule: 1h\nchannels:\n  - name: a\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m := config.NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	buf := &syncBuffer{}
	settings := SettingsFrom(m.Get, logx.NewJSON(buf, "debug"))
	for i := 0; i < 2; i++ {
		if d := settings().Pacer.Next(time.Now()); d != 2*time.Second {
			t.Fatalf("wait = %s, want 2s", d)
		}
	}
	if n := strings.Count(buf.String(), "SCRAPE_INTERVAL overrides scrape.schedule"); n != 1 {
		t.Fatalf("override warnings = %d, want 1:\n%s", n, buf.String())
	}
}

func TestApplyConfigUpdates(t *testing.T) {
	buf := &syncBuffer{}
	log := logx.NewJSON(buf, "debug")

	prev := config.Default()
	prev.Channels = []config.ChannelConfig{{Name: "a"}}
	next := config.Default()
	next.Channels = []config.ChannelConfig{{Name: "a"}, {Name: "b"}}
	next.Storage.Driver = "sqlite"

	updates := make(chan *config.Config, 2)
	updates <- next
	close(updates)
	applyConfigUpdates(context.Background(), prev, updates, nil, log)

	out := buf.String()
	if !strings.Contains(out, "config changes apply at the next cycle") {
		t.Fatalf("missing reload log:\n%s", out)
	}
	if !strings.Contains(out, "requires restart") || !strings.Contains(out, "storage") {
		t.Fatalf("missing restart warning:\n%s", out)
	}
}
