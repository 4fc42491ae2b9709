package service

import (
	"context"
	"sync"

	"tgscraper/internal/config"
	"tgscraper/internal/cycle"
	"tgscraper/internal/schedule"
	logx "tgscraper/pkg/logx"
)

// SettingsFrom reads the committed config on every call, so the runner picks
// up interval, schedule and cooldown changes at the next cycle boundary.
// SCRAPE_INTERVAL beats scrape.schedule; the override is logged once per
// distinct schedule.
func SettingsFrom(get func() *config.Config, log logx.Logger) func() cycle.Settings {
	var mu sync.Mutex
	warned := ""
	return func() cycle.Settings {
		cfg := get()
		if cfg == nil {
			return cycle.DefaultSettings()
		}
		sc := cfg.Scrape
		interval := sc.IntervalDuration()
		if sc.ScheduleOverridden() {
			mu.Lock()
			if warned != sc.Schedule {
				warned = sc.Schedule
				log.Warn("SCRAPE_INTERVAL overrides scrape.schedule",
					logx.String("schedule", sc.Schedule),
					logx.Duration("interval", interval),
				)
			}
			mu.Unlock()
		}
		pacer, err := schedule.New(sc.EffectiveSchedule(), interval, sc.Location())
		if err != nil {
			log.Warn("invalid scrape.schedule; using interval",
				logx.String("schedule", sc.Schedule),
				logx.Duration("interval", interval),
				logx.Err(err),
			)
			pacer = schedule.Every(interval)
		}
		return cycle.Settings{
			Pacer:       pacer,
			Cooldown:    sc.CooldownDuration(),
			ItemTimeout: sc.ItemTimeoutDuration(),
		}
	}
}

// ConfigHelpers returns the file watcher and the reload applier.
// The applier logs what changed, warns about sections that need a restart,
// and re-applies the logging section.
func ConfigHelpers(m *config.ConfigManager, logs *logx.Service, log logx.Logger) []Helper {
	watch := Helper{
		Name:    "config.watch",
		Restart: true,
		Run:     m.Watch,
	}
	apply := Helper{
		Name: "config.apply",
		Run: func(ctx context.Context) error {
			updates := m.Subscribe(4)
			defer m.Unsubscribe(updates)
			applyConfigUpdates(ctx, m.Get(), updates, logs, log)
			return nil
		},
	}
	return []Helper{watch, apply}
}

func applyConfigUpdates(ctx context.Context, prev *config.Config, updates <-chan *config.Config, logs *logx.Service, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				return
			}
			changed, fields := config.SummarizeConfigChange(prev, next)
			if len(changed) == 0 {
				log.Info("config reloaded (no changes)")
				prev = next
				continue
			}
			log.Info("config changes apply at the next cycle", append([]logx.Field{logx.Any("changed", changed)}, fields...)...)
			if restart := config.RestartRequired(prev, next); len(restart) > 0 {
				log.Warn("config change requires restart to take effect", logx.Any("sections", restart))
			}
			if logs != nil {
				logs.Apply(next.Logging.Logx())
			}
			prev = next
		}
	}
}
