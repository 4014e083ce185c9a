package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"crontrolhours/internal/reschedule"
	"crontrolhours/internal/settings"
	"crontrolhours/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
logging:
  level: error
scheduler:
  timezone: UTC
storage:
  driver: file
  path: %s
settings:
  path: %s
  env_prefix: CRONTROL_CLI_TEST
`, filepath.Join(dir, "jobs"), filepath.Join(dir, "settings.yaml"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestJobsAddListRemove(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "jobs", "add", "backup", "full", "--at", "2030-01-02T10:00:00Z", "--recurrence", "daily")
	require.NoError(t, err)
	assert.Contains(t, out, "scheduled backup(full) every daily")

	out, err = run(t, cfg, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2030-01-02T10:00:00Z")
	assert.Contains(t, out, "backup")
	assert.Contains(t, out, "full")

	_, err = run(t, cfg, "jobs", "add", "backup", "--recurrence", "fortnightly")
	assert.ErrorContains(t, err, "unknown recurrence")

	_, err = run(t, cfg, "jobs", "remove", "backup")
	assert.ErrorIs(t, err, storage.ErrNotFound, "args are part of the identity")

	_, err = run(t, cfg, "jobs", "rm", "backup", "full", "--at", "2030-01-02T11:00:00Z")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	out, err = run(t, cfg, "jobs", "rm", "backup", "full", "--at", "2030-01-02T10:00:00Z")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 1 job(s)")
}

func TestSettingsCommands(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "settings", "get", settings.StartTime)
	require.NoError(t, err)
	assert.Equal(t, "20:00\n", out)

	_, err = run(t, cfg, "settings", "get", "bogus")
	assert.ErrorIs(t, err, settings.ErrUnknownKey)

	_, err = run(t, cfg, "settings", "set", settings.StartTime, "25:99")
	assert.ErrorIs(t, err, settings.ErrInvalidValue)

	_, err = run(t, cfg, "settings", "set", settings.EndTime, "02:00")
	require.NoError(t, err)

	out, err = run(t, cfg, "settings", "list", "--json")
	require.NoError(t, err)
	var entries []settings.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	byName := map[string]settings.Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, "02:00", byName[settings.EndTime].Value)
	assert.Equal(t, settings.SourceFile, byName[settings.EndTime].Source)
	assert.Equal(t, "21600", byName[settings.Duration].Value, "duration follows the window")
}

func TestInstallUninstall(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "settings", "set", settings.RestrictFrequent, "1")
	require.NoError(t, err)

	out, err := run(t, cfg, "install")
	require.NoError(t, err)
	assert.Contains(t, out, "installed")

	out, err = run(t, cfg, "jobs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, reschedule.HookSweep)
	assert.Contains(t, out, reschedule.HookCarryover)

	_, err = run(t, cfg, "uninstall")
	require.NoError(t, err)
	out, err = run(t, cfg, "jobs", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, reschedule.HookSweep)
}

func TestSweepDryRunJSON(t *testing.T) {
	cfg := testConfig(t)
	_, err := run(t, cfg, "jobs", "add", "report", "--at", "+2h", "--recurrence", "daily")
	require.NoError(t, err)

	out, err := run(t, cfg, "sweep", "--dry-run", "--json")
	require.NoError(t, err)
	var rep reschedule.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, reschedule.KindSweep, rep.Kind)
	assert.True(t, rep.DryRun)
	for _, a := range rep.Actions {
		assert.False(t, a.Committed)
	}
}

func TestParseWhen(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	berlin := time.FixedZone("CET", 3600)

	got, err := parseWhen("", now, berlin)
	require.NoError(t, err)
	assert.Equal(t, now, got)

	got, err = parseWhen("+90m", now, berlin)
	require.NoError(t, err)
	assert.Equal(t, now.Add(90*time.Minute), got)

	got, err = parseWhen("2024-03-11 22:30", now, berlin)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 11, 21, 30, 0, 0, time.UTC), got.UTC())

	_, err = parseWhen("tomorrow", now, berlin)
	assert.Error(t, err)
}
