package admin

import (
	"context"
	"time"

	"crontrolhours/internal/reschedule"
	"crontrolhours/internal/runtime/supervisor"
	"crontrolhours/internal/settings"
	"crontrolhours/internal/storage"
	"crontrolhours/internal/task/scheduler"
)

const (
	DefaultAddr  = "127.0.0.1:8787"
	pprofPrefix  = "/debug/pprof/"
	defaultRate  = 1.0
	defaultBurst = 1
)

type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	// RatePerSec and Burst throttle POST /api/sweep and /api/carryover.
	RatePerSec float64
	Burst      int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Pprof bool
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.Pprof != b.Pprof ||
		// Timeouts affect server behavior; easiest is restart.
		a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout
}

// Rescheduler runs the maintenance jobs on demand.
type Rescheduler interface {
	Sweep(ctx context.Context, dryRun bool) reschedule.Report
	Carryover(ctx context.Context) reschedule.Report
}

// Settings is the subset of the settings store the API exposes.
type Settings interface {
	All() []settings.Entry
	Set(name, value string) error
}

// Deps are the components behind the API. Dispatcher and Supervisor are optional.
type Deps struct {
	Store       storage.Store
	Settings    Settings
	Rescheduler Rescheduler
	Dispatcher  func() scheduler.Snapshot
	Supervisor  func() supervisor.Snapshot
}
