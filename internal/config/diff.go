package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tgscraper/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens or DSNs).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Scrape != newCfg.Scrape {
		changed = append(changed, "scrape")
		attrs = append(attrs,
			logx.Duration("scrape.interval", newCfg.Scrape.IntervalDuration()),
			logx.String("scrape.schedule", strings.TrimSpace(newCfg.Scrape.Schedule)),
			logx.Duration("scrape.cooldown", newCfg.Scrape.CooldownDuration()),
			logx.Int("scrape.max_pages", newCfg.Scrape.MaxPages),
		)
	}

	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		changed = append(changed, "channels")
		added, removed := diffChannels(oldCfg.Channels, newCfg.Channels)
		attrs = append(attrs,
			logx.Int("channels.count", countEnabled(newCfg.Channels)),
			logx.Any("channels.added", added),
			logx.Any("channels.removed", removed),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", strings.TrimSpace(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Telegram.AlertChatID != newCfg.Telegram.AlertChatID ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		(strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""))
	}

	if oldCfg.Ops != newCfg.Ops {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", newCfg.Ops.Addr),
		)
	}

	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Ops != newCfg.Ops {
		out = append(out, "ops")
	}
	if oldCfg.Telegram != newCfg.Telegram {
		out = append(out, "telegram")
	}
	if oldCfg.Scrape.RequestTimeout != newCfg.Scrape.RequestTimeout ||
		oldCfg.Scrape.UserAgent != newCfg.Scrape.UserAgent ||
		oldCfg.Scrape.BaseURL != newCfg.Scrape.BaseURL {
		out = append(out, "scrape.http")
	}
	return out
}

func countEnabled(chs []ChannelConfig) int {
	n := 0
	for _, ch := range chs {
		if !ch.Disabled {
			n++
		}
	}
	return n
}

func diffChannels(oldChs, newChs []ChannelConfig) (added, removed []string) {
	set := func(chs []ChannelConfig) map[string]struct{} {
		m := make(map[string]struct{}, len(chs))
		for _, ch := range chs {
			if ch.Disabled {
				continue
			}
			m[strings.ToLower(strings.TrimSpace(ch.Name))] = struct{}{}
		}
		return m
	}
	o, n := set(oldChs), set(newChs)
	for k := range n {
		if _, ok := o[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range o {
		if _, ok := n[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
