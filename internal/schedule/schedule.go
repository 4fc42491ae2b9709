// Package schedule decides how long the loop rests between cycles.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec represents a parsed schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "0 */10 * * * *" (with seconds), "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a schedule string into either a cron expression or an
// interval duration. Cron expressions are validated.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return intervalSpec(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return intervalSpec(strings.TrimSpace(s[len("every:"):]))
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}

	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSpec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func parseCron(expr string) (ParsedSpec, error) {
	if expr == "" {
		return ParsedSpec{}, fmt.Errorf("cron schedule required")
	}
	if _, err := parser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
}

func intervalSpec(v string) (ParsedSpec, error) {
	if v == "" {
		return ParsedSpec{}, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return ParsedSpec{}, err
		}
		return ParsedSpec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval must be > 0")
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// Pacer yields the wait before the next cycle.
type Pacer interface {
	Next(now time.Time) time.Duration
	String() string
}

// Every returns a pacer with a fixed wait. d <= 0 means no wait.
func Every(d time.Duration) Pacer {
	if d < 0 {
		d = 0
	}
	return fixed(d)
}

type fixed time.Duration

func (f fixed) Next(time.Time) time.Duration { return time.Duration(f) }
func (f fixed) String() string               { return "every " + time.Duration(f).String() }

type cronPacer struct {
	expr  string
	sched cron.Schedule
	loc   *time.Location
}

func (c cronPacer) Next(now time.Time) time.Duration {
	next := c.sched.Next(now.In(c.loc))
	if next.IsZero() {
		return 0
	}
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (c cronPacer) String() string { return "cron " + c.expr }

// New builds a pacer from an optional schedule string. An empty schedule
// falls back to the fixed interval.
func New(raw string, interval time.Duration, loc *time.Location) (Pacer, error) {
	if strings.TrimSpace(raw) == "" {
		return Every(interval), nil
	}
	spec, err := ParseSchedule(raw)
	if err != nil {
		return nil, err
	}
	if spec.Kind == SpecInterval {
		return Every(spec.Every), nil
	}
	if loc == nil {
		loc = time.Local
	}
	sched, err := parser.Parse(spec.Cron)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
	}
	return cronPacer{expr: spec.Cron, sched: sched, loc: loc}, nil
}
