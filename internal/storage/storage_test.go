package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "crontrolhours/pkg/logx"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opener func(t *testing.T) Store

func drivers(t *testing.T) map[string]opener {
	t.Helper()
	out := map[string]opener{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "crontrol.json")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "crontrol.db"), BusyTimeout: time.Second}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			st, err := Open(Config{Driver: "redis", Redis: RedisConfig{Addr: mr.Addr(), Prefix: "crontrol-test"}}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
	return out
}

func at(h int) time.Time { return time.Date(2024, 3, 10, h, 0, 0, 0, time.UTC) }

func TestStoreContract(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			jobs, err := st.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, jobs)

			require.NoError(t, st.Schedule(ctx, Job{Hook: "backup", NextRun: at(10), Recurrence: "daily", Interval: 24 * time.Hour}))
			require.NoError(t, st.Schedule(ctx, Job{Hook: "mail", NextRun: at(12), Args: Args{"a", "b"}}))
			require.NoError(t, st.Schedule(ctx, Job{Hook: "backup", NextRun: at(8), Recurrence: "daily", Interval: 24 * time.Hour}))

			jobs, err = st.List(ctx)
			require.NoError(t, err)
			require.Len(t, jobs, 3)
			assert.Equal(t, "backup", jobs[0].Hook)
			assert.Equal(t, "mail", jobs[1].Hook)
			assert.Equal(t, Args{"a", "b"}, jobs[1].Args)
			assert.True(t, jobs[0].NextRun.Equal(at(10)))

			next, ok, err := st.Next(ctx, "backup", nil)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, next.NextRun.Equal(at(8)))
			assert.Equal(t, 24*time.Hour, next.Interval)

			_, ok, err = st.Next(ctx, "mail", nil)
			require.NoError(t, err)
			assert.False(t, ok, "args are part of the identity")

			// Same occurrence replaces in place.
			require.NoError(t, st.Schedule(ctx, Job{Hook: "backup", NextRun: at(10), Recurrence: "weekly", Interval: 7 * 24 * time.Hour}))
			jobs, err = st.List(ctx)
			require.NoError(t, err)
			require.Len(t, jobs, 3)
			assert.Equal(t, "weekly", jobs[0].Recurrence)

			removed, err := st.Unschedule(ctx, at(12), "mail", Args{"a", "b"})
			require.NoError(t, err)
			assert.True(t, removed)
			removed, err = st.Unschedule(ctx, at(12), "mail", Args{"a", "b"})
			require.NoError(t, err)
			assert.False(t, removed)

			n, err := st.Cancel(ctx, "backup", nil)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			n, err = st.Cancel(ctx, "backup", nil)
			require.NoError(t, err)
			assert.Zero(t, n)

			jobs, err = st.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, jobs)
		})
	}
}

func TestStoreRejectsInvalidJobs(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			assert.ErrorIs(t, st.Schedule(ctx, Job{NextRun: at(1)}), ErrInvalidJob)
			assert.ErrorIs(t, st.Schedule(ctx, Job{Hook: "x"}), ErrInvalidJob)
			assert.ErrorIs(t, st.Schedule(ctx, Job{Hook: "x", NextRun: at(1), Interval: time.Hour}), ErrInvalidJob)
		})
	}
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "crontrol.json")
	ctx := context.Background()

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Schedule(ctx, Job{Hook: "report", NextRun: at(21).Add(1500 * time.Millisecond), Recurrence: "hourly", Interval: time.Hour, Args: Args{"x"}}))
	require.NoError(t, st.Close())

	_, err = os.Stat(filepath.Join(filepath.Dir(path), "crontrol.jobs.json"))
	require.NoError(t, err)

	st, err = Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	jobs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, at(21).Add(time.Second).Unix(), jobs[0].NextRun.Unix())
	assert.Equal(t, Args{"x"}, jobs[0].Args)
	assert.Equal(t, time.Hour, jobs[0].Interval)
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crontrol.db")
	ctx := context.Background()

	st, err := Open(Config{Driver: "sqlite3", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Schedule(ctx, Job{Hook: "a", NextRun: at(1)}))
	require.NoError(t, st.Schedule(ctx, Job{Hook: "b", NextRun: at(2), Recurrence: "daily", Interval: 24 * time.Hour}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	jobs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Hook)
	assert.False(t, jobs[0].Recurring())
	assert.Equal(t, "daily", jobs[1].Recurrence)
}

func TestClosedStore(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := open(t)
			require.NoError(t, st.Schedule(ctx, Job{Hook: "x", NextRun: at(1)}))
			require.NoError(t, st.Close())
			require.NoError(t, st.Close(), "second close is a no-op")

			_, err := st.List(ctx)
			assert.ErrorIs(t, err, ErrClosed)
			_, _, err = st.Next(ctx, "x", nil)
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, st.Schedule(ctx, Job{Hook: "y", NextRun: at(2)}), ErrClosed)
			_, err = st.Cancel(ctx, "x", nil)
			assert.ErrorIs(t, err, ErrClosed)
			_, err = st.Unschedule(ctx, at(1), "x", nil)
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestRedisStoreLayout(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()
	st, err := Open(Config{Driver: "redis", Redis: RedisConfig{Addr: mr.Addr(), Prefix: "site"}}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Schedule(ctx, Job{Hook: "late", NextRun: at(9)}))
	require.NoError(t, st.Schedule(ctx, Job{Hook: "early", NextRun: at(3), Args: Args{"a"}}))

	assert.True(t, mr.Exists("site:jobs"))
	assert.True(t, mr.Exists("site:order"))
	members, err := mr.ZMembers("site:order")
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// Insertion order is kept regardless of run time.
	jobs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "late", jobs[0].Hook)
	assert.Equal(t, "early", jobs[1].Hook)
}

func TestOpenRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err := Open(Config{Driver: "redis", Redis: RedisConfig{Addr: addr}}, logx.Nop())
	assert.Error(t, err)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err, "path required")
}

func TestArgsKey(t *testing.T) {
	assert.Equal(t, "[]", Args(nil).Key())
	assert.Equal(t, "[]", Args{}.Key())
	assert.Equal(t, `["a","b c"]`, Args{"a", "b c"}.Key())

	got, err := parseArgsKey(`["a","b c"]`)
	require.NoError(t, err)
	assert.Equal(t, Args{"a", "b c"}, got)
}

func TestRecurrences(t *testing.T) {
	r := DefaultRecurrences().With(map[string]time.Duration{"Every_Six": 6 * time.Hour, "bad": 0})

	d, ok := r.Interval("every_six")
	require.True(t, ok)
	assert.Equal(t, 6*time.Hour, d)
	_, ok = r.Interval("bad")
	assert.False(t, ok)
	assert.Equal(t, []string{"hourly", "every_six", "twicedaily", "daily", "weekly", "monthly"}, r.Names())
}
