package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "config.json",
			body: `{"scrape":{"interval":"2s"},"channels":[{"name":"@durov"},{"name":"t.me/telegram","max_pages":3}]}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: "scrape:\n  interval: 2s\nchannels:\n  - name: \"@durov\"\n  - name: t.me/telegram\n    max_pages: 3\n",
		},
		{
			name: "toml",
			file: "config.toml",
			body: "[scrape]\ninterval = \"2s\"\n\n[[channels]]\nname = \"@durov\"\n\n[[channels]]\nname = \"t.me/telegram\"\nmax_pages = 3\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewConfigManager(writeFile(t, tt.file, tt.body))
			m.SetEnv(nil)
			cfg, err := m.Parse()
			require.NoError(t, err)
			require.Equal(t, 2*time.Second, cfg.Scrape.IntervalDuration())

			reg, err := cfg.Registry()
			require.NoError(t, err)
			require.Equal(t, []string{"durov", "telegram"}, reg.Names())
			items := reg.Items()
			require.Equal(t, DefaultMaxPages, items[0].Config.MaxPages)
			require.Equal(t, 3, items[1].Config.MaxPages)

			// Untouched sections keep their defaults.
			require.Equal(t, DefaultStorageDriver, cfg.Storage.Driver)
			require.True(t, cfg.Logging.Console)
			require.Equal(t, DefaultCooldown, cfg.Scrape.CooldownDuration())
			require.Equal(t, DefaultRequestTimeout, cfg.Scrape.RequestTimeoutDuration())
		})
	}
}

func TestParseBareIntervalSeconds(t *testing.T) {
	for file, body := range map[string]string{
		"config.yaml": "scrape:\n  interval: 90\n",
		"config.toml": "[scrape]\ninterval = 90\n",
		"config.json": `{"scrape":{"interval":90}}`,
	} {
		m := NewConfigManager(writeFile(t, file, body))
		m.SetEnv(nil)
		cfg, err := m.Parse()
		require.NoError(t, err, file)
		require.Equal(t, 90*time.Second, cfg.Scrape.IntervalDuration(), file)
	}

	m := NewConfigManager(writeFile(t, "config.json", `{"scrape":{"interval":1.5}}`))
	m.SetEnv(nil)
	_, err := m.Parse()
	require.Error(t, err)
}

func TestParseRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.json", `{"scrape":{"intervall":"2s"}}`))
	m.SetEnv(nil)
	_, err := m.Parse()
	require.Error(t, err)

	m = NewConfigManager(writeFile(t, "config.json", `{"channels":[]} {"channels":[]}`))
	m.SetEnv(nil)
	_, err = m.Parse()
	require.ErrorContains(t, err, "trailing data")
}

func TestParseWithoutFileUsesDefaults(t *testing.T) {
	m := NewConfigManager("")
	m.SetEnv(nil)
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, DefaultInterval, cfg.Scrape.IntervalDuration())
	require.Empty(t, cfg.Channels)

	reg, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.True(t, reg.Empty())
}

func TestScrapeIntervalEnv(t *testing.T) {
	t.Setenv(IntervalEnv, "2")
	m := NewConfigManager(writeFile(t, "config.json", `{"scrape":{"interval":"10m"}}`))
	cfg, err := m.Parse()
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.Scrape.IntervalDuration())
}

func TestScrapeIntervalEnvZero(t *testing.T) {
	t.Setenv(IntervalEnv, "0")
	cfg, err := NewConfigManager("").Parse()
	require.NoError(t, err)
	require.Zero(t, cfg.Scrape.IntervalDuration())
}

func TestScrapeIntervalEnvInvalid(t *testing.T) {
	for _, raw := range []string{"-5", "abc", "1.5"} {
		t.Run(raw, func(t *testing.T) {
			t.Setenv(IntervalEnv, raw)
			_, err := NewConfigManager("").Parse()
			require.ErrorContains(t, err, IntervalEnv)
		})
	}
}

func TestPrefixedEnvOverrides(t *testing.T) {
	t.Setenv("TGSCRAPER_LOG_LEVEL", "debug")
	t.Setenv("TGSCRAPER_STORAGE_DRIVER", "sqlite")
	t.Setenv("TGSCRAPER_STORAGE_PATH", "/tmp/x.db")
	cfg, err := NewConfigManager("").Parse()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, "sqlite", cfg.Storage.Driver)
	require.Equal(t, "/tmp/x.db", cfg.Storage.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errSub string
	}{
		{name: "defaults ok", mutate: func(*Config) {}},
		{name: "negative cooldown", mutate: func(c *Config) { c.Scrape.Cooldown = "-1s" }, errSub: "scrape.cooldown"},
		{name: "bad interval", mutate: func(c *Config) { c.Scrape.Interval = "soon" }, errSub: "scrape.interval"},
		{name: "bad schedule", mutate: func(c *Config) { c.Scrape.Schedule = "99 * * * *" }, errSub: "scrape.schedule"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scrape.Timezone = "Mars/Base" }, errSub: "scrape.timezone"},
		{name: "duplicate channels", mutate: func(c *Config) {
			c.Channels = []ChannelConfig{{Name: "durov"}, {Name: "@Durov"}}
		}, errSub: "duplicate"},
		{name: "empty channel", mutate: func(c *Config) { c.Channels = []ChannelConfig{{Name: " "}} }, errSub: "empty"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "mongo" }, errSub: "storage.driver"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, errSub: "storage.dsn"},
		{name: "alerts without token", mutate: func(c *Config) { c.Logging.Telegram.Enabled = true }, errSub: "telegram.token"},
		{name: "bad base url", mutate: func(c *Config) { c.Scrape.BaseURL = "t.me" }, errSub: "base_url"},
		{name: "public ops without token", mutate: func(c *Config) {
			c.Ops.Enabled = true
			c.Ops.Addr = "0.0.0.0:9090"
		}, errSub: "ops.token"},
		{name: "public ops with token", mutate: func(c *Config) {
			c.Ops.Enabled = true
			c.Ops.Addr = ":9090"
			c.Ops.Token = "s3cret"
		}},
		{name: "loopback ops", mutate: func(c *Config) {
			c.Ops.Enabled = true
			c.Ops.Addr = "localhost:9090"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errSub == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errSub)
		})
	}
}

func TestRegistrySkipsDisabledChannels(t *testing.T) {
	cfg := Default()
	cfg.Channels = []ChannelConfig{
		{Name: "a"},
		{Name: "b", Disabled: true},
		{Name: "c", Tags: []string{"news"}},
	}
	reg, err := cfg.Registry()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c"}, reg.Names())
	require.Equal(t, []string{"news"}, reg.Items()[1].Config.Tags)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := Default()
	oldCfg.Channels = []ChannelConfig{{Name: "a"}, {Name: "b"}}
	newCfg := Default()
	newCfg.Channels = []ChannelConfig{{Name: "b"}, {Name: "c"}}
	newCfg.Storage.DSN = "postgres://secret"

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"channels", "storage"}, changed)
	require.NotEmpty(t, attrs)
	require.Equal(t, []string{"storage"}, RestartRequired(oldCfg, newCfg))

	added, removed := diffChannels(oldCfg.Channels, newCfg.Channels)
	require.Equal(t, []string{"c"}, added)
	require.Equal(t, []string{"a"}, removed)
}

func TestWatchPublishesReload(t *testing.T) {
	path := writeFile(t, "config.json", `{"channels":[{"name":"a"}]}`)
	m := NewConfigManager(path)
	m.SetEnv(nil)
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	require.Eventually(t, func() bool {
		require.NoError(t, os.WriteFile(path, []byte(`{"channels":[{"name":"a"},{"name":"b"}]}`), 0o600))
		select {
		case cfg := <-sub:
			return len(cfg.Channels) == 2
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	reg, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestWatchRejectsInvalidReload(t *testing.T) {
	path := writeFile(t, "config.json", `{"channels":[{"name":"a"}]}`)
	m := NewConfigManager(path)
	m.SetEnv(nil)
	_, err := m.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"channels":[{"name":"a"},{"name":"A"}]}`), 0o600))
	m.reload(context.Background())
	require.Len(t, m.Get().Channels, 1)
}
