package reschedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crontrolhours/internal/settings"
	"crontrolhours/internal/storage"

	"github.com/stretchr/testify/require"
)

// fixedRand always returns v, clamped into [0, n).
type fixedRand int64

func (f fixedRand) Int63n(n int64) int64 {
	if int64(f) >= n {
		return n - 1
	}
	return int64(f)
}

// mapSettings accepts any value, including ones the real store would reject.
type mapSettings map[string]string

func (m mapSettings) Get(name string) string { return m[name] }

func (m mapSettings) Set(name, value string) error {
	m[name] = value
	return nil
}

// countingStore records mutations and can be told to fail them.
type countingStore struct {
	storage.Store

	mu         sync.Mutex
	cancels    []string
	schedules  []string
	failCancel map[string]bool
	failSched  map[string]bool
}

func newCountingStore() *countingStore {
	return &countingStore{Store: storage.NewMemory(), failCancel: map[string]bool{}, failSched: map[string]bool{}}
}

var errStoreDown = errors.New("store unavailable")

func (c *countingStore) Cancel(ctx context.Context, hook string, args storage.Args) (int, error) {
	c.mu.Lock()
	c.cancels = append(c.cancels, hook)
	fail := c.failCancel[hook]
	c.mu.Unlock()
	if fail {
		return 0, errStoreDown
	}
	return c.Store.Cancel(ctx, hook, args)
}

func (c *countingStore) Schedule(ctx context.Context, job storage.Job) error {
	c.mu.Lock()
	c.schedules = append(c.schedules, job.Hook)
	fail := c.failSched[job.Hook]
	c.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return c.Store.Schedule(ctx, job)
}

// interruptingStore cancels the caller's context as soon as a Cancel commits,
// the way a dropped admin request or a shutdown would.
type interruptingStore struct {
	storage.Store
	stop func()
}

func (s interruptingStore) Cancel(ctx context.Context, hook string, args storage.Args) (int, error) {
	n, err := s.Store.Cancel(ctx, hook, args)
	s.stop()
	return n, err
}

func (c *countingStore) mutations(hook string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, h := range c.cancels {
		if h == hook {
			n++
		}
	}
	for _, h := range c.schedules {
		if h == hook {
			n++
		}
	}
	return n
}

func (c *countingStore) reset() {
	c.mu.Lock()
	c.cancels, c.schedules = nil, nil
	c.mu.Unlock()
}

// refNow is Sunday 2024-03-10 09:00 UTC.
var refNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func utc(day, h, m int) time.Time { return time.Date(2024, 3, day, h, m, 0, 0, time.UTC) }

type fixture struct {
	store    *countingStore
	settings *settings.Store
	r        *Rescheduler
}

func newFixture(t *testing.T, kv map[string]string, rnd Rand) fixture {
	t.Helper()
	st := newCountingStore()
	s := settings.NewMemory()
	require.NoError(t, s.Set(settings.StartTime, "20:00"))
	require.NoError(t, s.Set(settings.EndTime, "04:00"))
	for k, v := range kv {
		require.NoError(t, s.Set(k, v))
	}
	if rnd == nil {
		rnd = fixedRand(0)
	}
	r := New(st, s,
		WithClock(func() time.Time { return refNow }),
		WithLocation(time.UTC),
		WithRand(rnd),
	)
	return fixture{store: st, settings: s, r: r}
}

func (f fixture) schedule(t *testing.T, jobs ...storage.Job) {
	t.Helper()
	for _, j := range jobs {
		require.NoError(t, f.store.Store.Schedule(context.Background(), j))
	}
}

func (f fixture) list(t *testing.T) []storage.Job {
	t.Helper()
	jobs, err := f.store.List(context.Background())
	require.NoError(t, err)
	return jobs
}

func (f fixture) find(t *testing.T, hook string, args storage.Args) storage.Job {
	t.Helper()
	j, ok, err := f.store.Next(context.Background(), hook, args)
	require.NoError(t, err)
	require.Truef(t, ok, "no job for %s", hook)
	return j
}

func hourly(hook string, next time.Time) storage.Job {
	return storage.Job{Hook: hook, NextRun: next, Recurrence: "hourly", Interval: time.Hour}
}

func weekly(hook string, next time.Time) storage.Job {
	return storage.Job{Hook: hook, NextRun: next, Recurrence: "weekly", Interval: 7 * 24 * time.Hour}
}
