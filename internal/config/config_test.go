package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "crontrolhours/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  tick: "@every 30s"
  timezone: Europe/Berlin
  handler_timeout: 2m
storage:
  driver: sqlite
  path: ./crontrol.db
  busy_timeout: 5s
settings:
  path: ./settings.yaml
  watch: true
admin:
  enabled: true
  addr: 127.0.0.1:8787
  token: secret
recurrences:
  every_ten: 10m
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Get())

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "@every 30s", cfg.Scheduler.Tick)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.True(t, cfg.Settings.Watch)
	assert.Equal(t, "secret", cfg.Admin.Token)

	rec, err := cfg.RecurrenceOverrides()
	require.NoError(t, err)
	assert.Equal(t, map[string]time.Duration{"every_ten": 10 * time.Minute}, rec)
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.json", `{"scheduler":{"enabled":true},"admin":{"enabled":false}}`))
	cfg, err := m.Load()
	require.NoError(t, err)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Nil(t, cfg.Storage)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
	}{
		{name: "unknown key", file: "c.yaml", body: "scheduler:\n  workers: 3\n"},
		{name: "trailing json", file: "c.json", body: `{"scheduler":{}} {"admin":{}}`},
		{name: "bad yaml", file: "c.yaml", body: "scheduler: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConfigManager(writeFile(t, tt.file, tt.body)).Parse()
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "zero", cfg: Config{}, ok: true},
		{name: "offset timezone", cfg: Config{Scheduler: SchedulerConfig{Timezone: "UTC+2"}}, ok: true},
		{name: "bad timezone", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}},
		{name: "bad timeout", cfg: Config{Scheduler: SchedulerConfig{HandlerTimeout: "soon"}}},
		{name: "unknown driver", cfg: Config{Storage: &StorageConfig{Driver: "mysql"}}},
		{name: "redis without addr", cfg: Config{Storage: &StorageConfig{Driver: "redis"}}},
		{name: "redis", cfg: Config{Storage: &StorageConfig{Driver: "redis", Redis: &RedisConfig{Addr: "localhost:6379"}}}, ok: true},
		{name: "negative duration", cfg: Config{Admin: AdminConfig{IdleTimeout: "-1s"}}},
		{name: "zero recurrence", cfg: Config{Recurrences: map[string]string{"never": "0s"}}},
		{name: "negative rate", cfg: Config{Admin: AdminConfig{RatePerSec: -1}}},
		{name: "bad log level", cfg: Config{Logging: LoggingConfig{Level: "chatty"}}},
		{name: "weekly in days", cfg: Config{Recurrences: map[string]string{"fortnightly": "14d"}}, ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	old := &Config{Admin: AdminConfig{Token: "a"}, Storage: &StorageConfig{Driver: "file"}}
	next := &Config{
		Admin:     AdminConfig{Token: "b"},
		Storage:   &StorageConfig{Driver: "file"},
		Scheduler: SchedulerConfig{Enabled: true},
	}
	changed, attrs := SummarizeConfigChange(old, next)
	assert.Equal(t, []string{"scheduler", "admin"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(next, next)
	assert.Empty(t, changed)

	changed, _ = SummarizeConfigChange(nil, &Config{Recurrences: map[string]string{"x": "1h"}})
	assert.Equal(t, []string{"recurrences"}, changed)
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = ParseDurationOrDefault("x", "90s", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = ParseDurationOrDefault("x", "-5s", time.Minute)
	assert.Error(t, err)

	d, err = ParseDurationField("recurrences.fortnightly", "14d")
	require.NoError(t, err)
	assert.Equal(t, 14*24*time.Hour, d)

	_, err = ParseDurationField("recurrences.x", "-2d")
	assert.Error(t, err)
	_, err = ParseDurationField("recurrences.x", "twod")
	assert.Error(t, err)
}

func TestDecodeEmptyYAML(t *testing.T) {
	t.Parallel()
	cfg, err := decode("c.yaml", []byte("# nothing yet\n"))
	require.NoError(t, err)
	assert.Nil(t, cfg.Storage)

	_, err = decode("c.json", []byte(`{"logging":{}} {"logging":{}}`))
	assert.ErrorContains(t, err, "trailing data")
}

func TestWatchPublishesValidChanges(t *testing.T) {
	path := writeFile(t, "config.yaml", "scheduler:\n  enabled: false\n")
	m := NewConfigManager(path)
	m.SetLogger(logx.Nop())
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(4)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)

	// Invalid content is never committed.
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  timezone: Nowhere/Land\n"), 0o644))
	time.Sleep(600 * time.Millisecond)
	assert.False(t, m.Get().Scheduler.Enabled)
	assert.Empty(t, m.Get().Scheduler.Timezone)

	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  enabled: true\n"), 0o644))
	select {
	case cfg := <-ch:
		assert.True(t, cfg.Scheduler.Enabled)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	assert.True(t, m.Get().Scheduler.Enabled)

	cancel()
	<-done
}
