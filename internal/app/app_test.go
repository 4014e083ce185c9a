package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crontrolhours/internal/config"
	"crontrolhours/internal/reschedule"
	"crontrolhours/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
logging:
  level: error
scheduler:
  enabled: true
  tick: "@every 1h"
  timezone: UTC
storage:
  driver: sqlite
  path: %s
settings:
  path: %s
  env_prefix: CRONTROL_APP_TEST
%s`, filepath.Join(dir, "jobs.db"), filepath.Join(dir, "settings.yaml"), extra)
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestStartInstallsMaintenanceJobs(t *testing.T) {
	a, err := New(writeConfig(t, ""))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))
	defer func() { _ = a.Stop(context.Background(), StopCommand) }()

	job, ok, err := a.Store().Next(ctx, reschedule.HookSweep, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "daily", job.Recurrence)
	assert.Equal(t, 23, job.NextRun.In(time.UTC).Hour())
	assert.Equal(t, 59, job.NextRun.In(time.UTC).Minute())

	_, ok, err = a.Store().Next(ctx, reschedule.HookCarryover, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	// 20:00 to 04:00 is eight hours.
	assert.Equal(t, "28800", a.Settings().Get(settings.Duration))

	snap := a.Dispatcher().Snapshot()
	assert.True(t, snap.Running)
	assert.Contains(t, snap.Handlers, reschedule.HookSweep)
	assert.Contains(t, snap.Handlers, reschedule.HookCarryover)
}

func TestSettingChangesKeepDerivedStateInSync(t *testing.T) {
	a, err := New(writeConfig(t, ""))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	ctx := context.Background()

	require.NoError(t, a.Settings().Set(settings.EndTime, "06:00"))
	assert.Equal(t, "36000", a.Settings().Get(settings.Duration))

	require.NoError(t, a.Settings().Set(settings.RestrictFrequent, "1"))
	_, ok, err := a.Store().Next(ctx, reschedule.HookCarryover, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.Settings().Set(settings.RestrictFrequent, "0"))
	_, ok, err = a.Store().Next(ctx, reschedule.HookCarryover, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(writeConfig(t, "admin:\n  read_timeout: forever\n"))
	assert.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		cfg    *config.StorageConfig
		driver string
		err    bool
	}{
		{name: "omitted", cfg: nil, driver: "file"},
		{name: "empty driver", cfg: &config.StorageConfig{}, driver: "file"},
		{name: "memory", cfg: &config.StorageConfig{Driver: "memory"}, driver: "memory"},
		{name: "sqlite", cfg: &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s"}, driver: "sqlite"},
		{name: "sqlite without path", cfg: &config.StorageConfig{Driver: "sqlite"}, err: true},
		{name: "redis", cfg: &config.StorageConfig{Driver: "redis", Redis: &config.RedisConfig{Addr: "localhost:6379"}}, driver: "redis"},
		{name: "redis without addr", cfg: &config.StorageConfig{Driver: "redis"}, err: true},
		{name: "unknown", cfg: &config.StorageConfig{Driver: "etcd"}, err: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			sc, err := mapStorageConfig(&config.Config{Storage: tt.cfg})
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, sc.Driver)
		})
	}

	sc, err := mapStorageConfig(&config.Config{Storage: &config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "3s"}})
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, sc.BusyTimeout)
}

func TestMapSchedulerAndAdminConfig(t *testing.T) {
	t.Parallel()
	sc, err := mapSchedulerConfig(&config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "@every 1m", sc.Tick)
	assert.Equal(t, 5*time.Minute, sc.HandlerTimeout)

	_, err = mapSchedulerConfig(&config.Config{Scheduler: config.SchedulerConfig{Tick: "whenever"}})
	assert.Error(t, err)

	ac, err := mapAdminConfig(&config.Config{Admin: config.AdminConfig{Token: " t "}})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8787", ac.Addr)
	assert.Equal(t, "t", ac.Token)
	assert.Zero(t, ac.WriteTimeout)
	assert.Equal(t, 10*time.Second, ac.ReadTimeout)
}
