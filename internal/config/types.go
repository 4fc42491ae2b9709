package config

import (
	"strings"
	"time"
)

const (
	DefaultInterval       = 300 * time.Second
	DefaultCooldown       = 60 * time.Second
	DefaultRequestTimeout = 15 * time.Second
	DefaultMaxPages       = 1
	DefaultBaseURL        = "https://t.me/s/"
	DefaultUserAgent      = "tgscraper/1.0 (+https://t.me)"
	DefaultStorageDriver  = "file"
	DefaultStoragePath    = "data/tgscraper"
	DefaultLogDir         = "logs"
	DefaultLogPrefix      = "tgscraper"
)

type Config struct {
	Scrape   ScrapeConfig    `json:"scrape"`
	Channels []ChannelConfig `json:"channels"`
	Logging  LoggingConfig   `json:"logging"`
	Storage  StorageConfig   `json:"storage"`
	Telegram TelegramConfig  `json:"telegram,omitempty"`
	Ops      OpsConfig       `json:"ops,omitempty"`
}

// ScrapeConfig controls the cycle loop and the channel scraper.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m"). A bare
// integer is read as seconds.
//
// Defaults (when fields are omitted):
//   - interval: "300s" ("0s" starts the next cycle immediately)
//   - cooldown: "60s" (wait after a failed cycle)
//   - item_timeout: "0s" (disabled)
//   - request_timeout: "15s"
//   - max_pages: 1
//
// Schedule, when set, replaces the fixed interval (cron like "*/5 * * * *",
// "@every 10m", HH:MM or a duration).
type ScrapeConfig struct {
	Interval       Seconds `json:"interval,omitempty"`
	Schedule       string  `json:"schedule,omitempty"`
	Timezone       string  `json:"timezone,omitempty"`
	Cooldown       string  `json:"cooldown,omitempty"`
	ItemTimeout    string  `json:"item_timeout,omitempty"`
	RequestTimeout string  `json:"request_timeout,omitempty"`
	UserAgent      string  `json:"user_agent,omitempty"`
	BaseURL        string  `json:"base_url,omitempty"`
	MaxPages       int     `json:"max_pages,omitempty"`

	// IntervalFromEnv is set by ApplyEnv when SCRAPE_INTERVAL is present.
	// The env interval then replaces Schedule.
	IntervalFromEnv bool `json:"-"`
}

// ChannelConfig is one entry of the channel registry.
type ChannelConfig struct {
	Name     string   `json:"name"`
	MaxPages int      `json:"max_pages,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Dir     string `json:"dir,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/tgscraper.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxConns    int32  `json:"max_conns,omitempty"`    // postgres
}

// TelegramConfig configures the bot used for log alerts.
type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	AlertChatID int64  `json:"alert_chat_id,omitempty"`
	ThreadID    int    `json:"thread_id,omitempty"`
}

// OpsConfig controls the optional operations HTTP server.
//
// Prefer binding to localhost (e.g. "127.0.0.1:9090"). A non-loopback
// address requires Token.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}

// Default returns the configuration used when a field is omitted.
// Files are decoded on top of it.
func Default() *Config {
	return &Config{
		Scrape: ScrapeConfig{
			MaxPages:  DefaultMaxPages,
			BaseURL:   DefaultBaseURL,
			UserAgent: DefaultUserAgent,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File: LoggingFile{
				Enabled: true,
				Dir:     DefaultLogDir,
				Prefix:  DefaultLogPrefix,
			},
		},
		Storage: StorageConfig{
			Driver: DefaultStorageDriver,
			Path:   DefaultStoragePath,
		},
		Ops: OpsConfig{Addr: "127.0.0.1:9090"},
	}
}

// IntervalDuration returns the fixed wait between cycles.
func (s ScrapeConfig) IntervalDuration() time.Duration {
	if strings.TrimSpace(string(s.Interval)) == "" {
		return DefaultInterval
	}
	d, _ := ParseSecondsOrDuration("scrape.interval", string(s.Interval))
	return d
}

// EffectiveSchedule is the schedule the loop actually follows: empty when
// SCRAPE_INTERVAL is set, so the env interval wins over the file.
func (s ScrapeConfig) EffectiveSchedule() string {
	if s.IntervalFromEnv {
		return ""
	}
	return strings.TrimSpace(s.Schedule)
}

// ScheduleOverridden reports a file schedule that SCRAPE_INTERVAL replaces.
func (s ScrapeConfig) ScheduleOverridden() bool {
	return s.IntervalFromEnv && strings.TrimSpace(s.Schedule) != ""
}

// CooldownDuration returns the wait after a failed cycle.
func (s ScrapeConfig) CooldownDuration() time.Duration {
	d, _ := ParseDurationOrDefault("scrape.cooldown", s.Cooldown, DefaultCooldown)
	return d
}

func (s ScrapeConfig) ItemTimeoutDuration() time.Duration {
	d, _ := ParseDurationField("scrape.item_timeout", s.ItemTimeout)
	return d
}

func (s ScrapeConfig) RequestTimeoutDuration() time.Duration {
	d, _ := ParseDurationOrDefault("scrape.request_timeout", s.RequestTimeout, DefaultRequestTimeout)
	return d
}

// Location resolves Timezone, falling back to local time.
func (s ScrapeConfig) Location() *time.Location {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

func (s StorageConfig) BusyTimeoutDuration() time.Duration {
	d, _ := ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	return d
}
