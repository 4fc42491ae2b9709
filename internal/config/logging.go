package config

import logx "tgscraper/pkg/logx"

// Logx maps the logging section onto the logx service config.
func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Dir:     l.File.Dir,
			Prefix:  l.File.Prefix,
		},
		Alerts: logx.AlertConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}
