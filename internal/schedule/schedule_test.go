package schedule

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron with seconds", raw: "0 */10 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@every 10m", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every:00:30", kind: SpecInterval, source: "hhmm", duration: 30 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "61 * * * *", "00:75", "-5m", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestEveryPacer(t *testing.T) {
	t.Parallel()
	p := Every(2 * time.Second)
	if got := p.Next(time.Now()); got != 2*time.Second {
		t.Fatalf("Next = %v", got)
	}
	if got := Every(-time.Second).Next(time.Now()); got != 0 {
		t.Fatalf("negative interval should clamp to 0, got %v", got)
	}
}

func TestNewFallsBackToInterval(t *testing.T) {
	t.Parallel()
	p, err := New("", 300*time.Second, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Next(time.Now()); got != 300*time.Second {
		t.Fatalf("Next = %v", got)
	}
}

func TestCronPacerWaitsUntilNextSlot(t *testing.T) {
	t.Parallel()
	p, err := New("*/15 * * * *", time.Minute, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)
	if got, want := p.Next(now), 7*time.Minute+30*time.Second; got != want {
		t.Fatalf("Next = %v, want %v", got, want)
	}
	if p.String() != "cron */15 * * * *" {
		t.Fatalf("String = %q", p.String())
	}
}
