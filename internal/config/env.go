package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// IntervalEnv is the environment variable that overrides scrape.interval.
// It holds a non-negative integer number of seconds.
const IntervalEnv = "SCRAPE_INTERVAL"

// EnvPrefix prefixes every other override (e.g. TGSCRAPER_LOG_LEVEL).
const EnvPrefix = "TGSCRAPER"

// NewEnv returns a viper instance bound to the supported environment overrides.
func NewEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("scrape.interval", IntervalEnv)
	for _, key := range []string{
		"log.level",
		"storage.driver",
		"storage.path",
		"storage.dsn",
		"telegram.token",
		"ops.addr",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// ApplyEnv overlays environment overrides onto cfg.
// A malformed SCRAPE_INTERVAL is an error; the caller treats it as fatal.
func ApplyEnv(cfg *Config, v *viper.Viper) error {
	if cfg == nil || v == nil {
		return nil
	}
	if v.IsSet("scrape.interval") {
		raw := strings.TrimSpace(v.GetString("scrape.interval"))
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer number of seconds, got %q", IntervalEnv, raw)
		}
		cfg.Scrape.Interval = Seconds(strconv.Itoa(n) + "s")
		cfg.Scrape.IntervalFromEnv = true
	}
	if v.IsSet("log.level") {
		cfg.Logging.Level = v.GetString("log.level")
	}
	if v.IsSet("storage.driver") {
		cfg.Storage.Driver = v.GetString("storage.driver")
	}
	if v.IsSet("storage.path") {
		cfg.Storage.Path = v.GetString("storage.path")
	}
	if v.IsSet("storage.dsn") {
		cfg.Storage.DSN = v.GetString("storage.dsn")
	}
	if v.IsSet("telegram.token") {
		cfg.Telegram.Token = v.GetString("telegram.token")
	}
	if v.IsSet("ops.addr") {
		cfg.Ops.Addr = v.GetString("ops.addr")
	}
	return nil
}
