package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrClosed     = errors.New("storage closed")
	ErrInvalidJob = errors.New("invalid job")
	// ErrNotFound is returned by callers that require a job to exist; the Store
	// itself treats missing jobs as a no-op.
	ErrNotFound = errors.New("job not found")
)

// Config configures storage.
//
// If Driver is empty the file driver is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	Redis RedisConfig
}

type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string // default "crontrol"
}

// Args is the opaque argument list of a job. It round-trips unchanged and is part of
// the job identity: the same hook with different args is a different job.
type Args []string

// Key is a stable string form of the args, used for matching and as a storage column.
// nil and empty args share the key "[]".
func (a Args) Key() string {
	if len(a) == 0 {
		return "[]"
	}
	b, _ := json.Marshal([]string(a))
	return string(b)
}

func (a Args) Equal(b Args) bool { return slices.Equal(a, b) }

func (a Args) String() string {
	if len(a) == 0 {
		return ""
	}
	return strings.Join(a, ",")
}

func parseArgsKey(key string) (Args, error) {
	if key == "" || key == "[]" {
		return nil, nil
	}
	var a []string
	if err := json.Unmarshal([]byte(key), &a); err != nil {
		return nil, err
	}
	return Args(a), nil
}

// Job is one scheduled occurrence.
//
// Recurrence is empty for single events. Interval is 0 when it cannot be determined
// (single events, or a recurrence whose definition is unknown).
type Job struct {
	Hook       string
	NextRun    time.Time
	Recurrence string
	Interval   time.Duration
	Args       Args
}

func (j Job) Recurring() bool { return j.Recurrence != "" }

// Is reports whether j is the occurrence identified by (at, hook, args).
func (j Job) Is(at time.Time, hook string, args Args) bool {
	return j.NextRun.Unix() == at.Unix() && j.Matches(hook, args)
}

// Matches reports whether j belongs to hook with exactly args.
func (j Job) Matches(hook string, args Args) bool {
	return j.Hook == hook && j.Args.Equal(args)
}

func (j Job) String() string {
	s := j.Hook
	if len(j.Args) > 0 {
		s += "(" + j.Args.String() + ")"
	}
	if j.Recurring() {
		s += " every " + j.Recurrence
	}
	return s + " at " + j.NextRun.Format(time.RFC3339)
}

func (j Job) validate() error {
	if strings.TrimSpace(j.Hook) == "" {
		return fmt.Errorf("%w: hook required", ErrInvalidJob)
	}
	if j.NextRun.IsZero() {
		return fmt.Errorf("%w: next run required", ErrInvalidJob)
	}
	if j.Interval < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidJob)
	}
	if !j.Recurring() && j.Interval != 0 {
		return fmt.Errorf("%w: interval set on a single event", ErrInvalidJob)
	}
	return nil
}

// normalize drops sub-second precision; the store resolution is one second.
func (j Job) normalize() Job {
	j.NextRun = time.Unix(j.NextRun.Unix(), 0)
	j.Interval = j.Interval.Truncate(time.Second)
	if len(j.Args) == 0 {
		j.Args = nil
	}
	return j
}

// Store is the job store API consumed by the rescheduler and the dispatcher.
//
// Cancel and Unschedule of missing jobs are no-ops (0 / false, nil error).
// Schedule replaces an existing occurrence with the same (next run, hook, args).
type Store interface {
	// List returns all jobs in insertion order.
	List(ctx context.Context) ([]Job, error)
	// Next returns the earliest job for hook with exactly args.
	Next(ctx context.Context, hook string, args Args) (Job, bool, error)
	Schedule(ctx context.Context, job Job) error
	// Cancel removes every job for hook with exactly args and returns how many were removed.
	Cancel(ctx context.Context, hook string, args Args) (int, error)
	// Unschedule removes a single occurrence.
	Unschedule(ctx context.Context, at time.Time, hook string, args Args) (bool, error)
	Close() error
}

// jobRecord is the serialized form used by the file and redis drivers.
type jobRecord struct {
	Hook       string   `json:"hook"`
	NextRun    int64    `json:"next_run"`
	Recurrence string   `json:"recurrence,omitempty"`
	Interval   int64    `json:"interval,omitempty"`
	Args       []string `json:"args,omitempty"`
}

func toRecord(j Job) jobRecord {
	return jobRecord{
		Hook:       j.Hook,
		NextRun:    j.NextRun.Unix(),
		Recurrence: j.Recurrence,
		Interval:   int64(j.Interval / time.Second),
		Args:       j.Args,
	}
}

func (r jobRecord) job() Job {
	return Job{
		Hook:       r.Hook,
		NextRun:    time.Unix(r.NextRun, 0),
		Recurrence: r.Recurrence,
		Interval:   time.Duration(r.Interval) * time.Second,
		Args:       Args(r.Args),
	}.normalize()
}
