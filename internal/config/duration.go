package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseSecondsOrDuration accepts either a bare non-negative integer (seconds)
// or a Go duration string.
func ParseSecondsOrDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s: must be >= 0, got %d", path, n)
		}
		return time.Duration(n) * time.Second, nil
	}
	return ParseDurationField(path, s)
}

// Seconds is a duration field that also accepts a bare JSON number of
// seconds, so `interval: 300` works in YAML and TOML.
type Seconds string

func (s *Seconds) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = Seconds(v)
		return nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n != float64(int64(n)) {
		return fmt.Errorf("invalid seconds value %s", raw)
	}
	*s = Seconds(strconv.FormatInt(int64(n), 10))
	return nil
}
