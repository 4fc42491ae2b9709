package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"tgscraper/internal/registry"
	"tgscraper/internal/schedule"
)

// Validate checks the config for values the service cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(string(c.Scrape.Interval)) != "" {
		if _, err := ParseSecondsOrDuration("scrape.interval", string(c.Scrape.Interval)); err != nil {
			errs = append(errs, err)
		}
	}
	if strings.TrimSpace(c.Scrape.Schedule) != "" {
		if _, err := schedule.ParseSchedule(c.Scrape.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("scrape.schedule: %w", err))
		}
	}
	if tz := strings.TrimSpace(c.Scrape.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scrape.timezone: %w", err))
		}
	}
	for path, raw := range map[string]string{
		"scrape.cooldown":        c.Scrape.Cooldown,
		"scrape.item_timeout":    c.Scrape.ItemTimeout,
		"scrape.request_timeout": c.Scrape.RequestTimeout,
		"storage.busy_timeout":   c.Storage.BusyTimeout,
	} {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Scrape.MaxPages < 0 {
		errs = append(errs, errors.New("scrape.max_pages must be >= 0"))
	}
	if raw := strings.TrimSpace(c.Scrape.BaseURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("scrape.base_url: invalid url %q", raw))
		}
	}

	for i, ch := range c.Channels {
		if ch.MaxPages < 0 {
			errs = append(errs, fmt.Errorf("channels[%d].max_pages must be >= 0", i))
		}
	}
	if _, err := c.Registry(); err != nil {
		errs = append(errs, fmt.Errorf("channels: %w", err))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required"))
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	if c.Logging.Telegram.Enabled {
		if strings.TrimSpace(c.Telegram.Token) == "" {
			errs = append(errs, errors.New("logging.telegram requires telegram.token"))
		}
		if c.Telegram.AlertChatID == 0 {
			errs = append(errs, errors.New("logging.telegram requires telegram.alert_chat_id"))
		}
	}
	if c.Ops.Enabled {
		addr := strings.TrimSpace(c.Ops.Addr)
		switch {
		case addr == "":
			errs = append(errs, errors.New("ops.addr is required when ops is enabled"))
		case strings.TrimSpace(c.Ops.Token) == "" && !isLoopbackAddr(addr):
			errs = append(errs, fmt.Errorf("ops.addr %q is not loopback; set ops.token", addr))
		}
	}
	return errors.Join(errs...)
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Registry builds the channel registry from the enabled channels.
func (c *Config) Registry() (registry.Registry, error) {
	if c == nil {
		return registry.New()
	}
	items := make([]registry.Item, 0, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Disabled {
			continue
		}
		maxPages := ch.MaxPages
		if maxPages <= 0 {
			maxPages = c.Scrape.MaxPages
		}
		items = append(items, registry.Item{
			Name: ch.Name,
			Config: registry.ChannelConfig{
				MaxPages: maxPages,
				Tags:     append([]string(nil), ch.Tags...),
			},
		})
	}
	return registry.New(items...)
}
