package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background())
	s.Go("watcher", func(ctx context.Context) error { return errors.New("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "watcher: boom") {
		t.Fatalf("Wait err = %v", err)
	}
	snap := s.Snapshot()
	if snap.Active != 0 || snap.Started != 1 || len(snap.Tasks) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Tasks[0].LastErr == "" {
		t.Fatalf("task error not recorded: %+v", snap.Tasks[0])
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("ops", func(ctx context.Context) error { panic("bad handler") })

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("cancel-on-error did not cancel the context")
	}
	if err := s.Stop(context.Background()); err == nil || !strings.Contains(err.Error(), "panic: bad handler") {
		t.Fatalf("Stop err = %v", err)
	}
	if got := s.Snapshot().Tasks[0].Panics; got != 1 {
		t.Fatalf("panics = %d", got)
	}
}

func TestCanceledIsCleanStop(t *testing.T) {
	s := New(context.Background())
	s.Go("watchdog", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop err = %v", err)
	}
}

func TestGoRestartRestartsUntilSuccess(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("config.watch", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("watch failed")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait err = %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	if got := s.Snapshot().Tasks[0].Restarts; got != 2 {
		t.Fatalf("restarts = %d, want 2", got)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs.Add(1)
		panic("again")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected final error")
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
}

func TestGoRestartStopsOnPermanentError(t *testing.T) {
	errBind := errors.New("bind refused")
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("ops.http", func(ctx context.Context) error {
		runs.Add(1)
		return Permanent(errBind)
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if !errors.Is(err, errBind) {
		t.Fatalf("Wait err = %v", err)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d, want 1", runs.Load())
	}
	snap := s.Snapshot()
	if len(snap.Tasks) != 1 || snap.Tasks[0].Restarts != 0 {
		t.Fatalf("tasks = %+v", snap.Tasks)
	}
	if Permanent(nil) != nil {
		t.Fatal("Permanent(nil) must be nil")
	}
}

func TestStopInterruptsBackoff(t *testing.T) {
	s := New(context.Background())
	s.GoRestart("slow", func(ctx context.Context) error {
		return errors.New("fail")
	}, WithRestartBackoff(time.Hour, time.Hour))

	time.Sleep(20 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop err = %v", err)
	}
}
