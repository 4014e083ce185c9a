package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTick(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw   string
		cron  string
		every time.Duration
	}{
		{raw: "*/5 * * * *", cron: "*/5 * * * *"},
		{raw: "30 */5 * * * *", cron: "30 */5 * * * *"},
		{raw: "@every 1m", cron: "@every 1m"},
		{raw: "@hourly", cron: "@hourly"},
		{raw: "cron:0 0 * * *", cron: "0 0 * * *"},
		{raw: "90s", every: 90 * time.Second},
		{raw: "every:00:02", every: 2 * time.Minute},
		{raw: "01:30", every: 90 * time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTick(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.cron, got.Cron)
			assert.Equal(t, tt.every, got.Every)
			assert.Equal(t, tt.every > 0, got.IsInterval())
		})
	}
}

func TestParseTickInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "sometimes", "0s", "500ms", "every:", "cron:", "00:00", "01:75", "61 * * * *", "@fortnightly"} {
		_, err := ParseTick(raw)
		assert.Errorf(t, err, "ParseTick(%q)", raw)
	}
}

func TestIntervalScheduleSpreadsOnlyTheFirstRun(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	sched, spread := intervalSchedule(time.Minute, now)
	assert.GreaterOrEqual(t, spread, time.Duration(0))
	assert.Less(t, spread, maxStartupSpread)

	first := sched.Next(now)
	assert.Equal(t, now.Add(time.Minute+spread), first)
	assert.Equal(t, first.Add(time.Minute).Truncate(time.Second), sched.Next(first))

	_, spread = intervalSchedule(10*time.Second, now)
	assert.Less(t, spread, 10*time.Second)
}
