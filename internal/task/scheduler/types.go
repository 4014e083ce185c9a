package scheduler

import (
	"context"
	"sync"
	"time"

	"crontrolhours/internal/eventbus"
	"crontrolhours/internal/metrics"
	"crontrolhours/internal/storage"
	logx "crontrolhours/pkg/logx"

	"github.com/robfig/cron/v3"
)

const (
	DefaultTick           = "@every 1m"
	DefaultHandlerTimeout = 5 * time.Minute
	DefaultHistorySize    = 50
)

// Config controls the dispatcher.
type Config struct {
	Enabled        bool
	Tick           string // cron spec or interval, see ParseTick
	Timezone       string // IANA name or fixed offset; empty means Local
	HandlerTimeout time.Duration
	HistorySize    int
}

// Handler runs the work behind a hook.
type Handler func(ctx context.Context, job storage.Job) error

// Fired records one job the dispatcher fired.
type Fired struct {
	Hook        string        `json:"hook"`
	Args        []string      `json:"args,omitempty"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	FiredAt     time.Time     `json:"fired_at"`
	Next        time.Time     `json:"next,omitempty"`
	Handled     bool          `json:"handled"`
	Took        time.Duration `json:"took"`
	Err         string        `json:"error,omitempty"`
}

// TickSummary is the outcome of one RunDue call.
type TickSummary struct {
	At     time.Time
	Due    int
	Fired  int
	Failed int
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock replaces time.Now when deciding which jobs are due.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRecurrences resolves intervals of recurring jobs stored without one.
func WithRecurrences(rec storage.Recurrences) Option {
	return func(s *Service) {
		if rec != nil {
			s.recurrences = rec
		}
	}
}

type Service struct {
	mu sync.Mutex

	log         logx.Logger
	cfg         Config
	loc         *time.Location
	bus         eventbus.Bus
	metrics     *metrics.Metrics
	store       storage.Store
	recurrences storage.Recurrences
	now         func() time.Time

	c             *cron.Cron
	entryID       cron.EntryID
	startupSpread time.Duration
	runCtx        context.Context

	hmu      sync.RWMutex
	handlers map[string]Handler

	histMu   sync.Mutex
	history  []Fired
	lastTick TickSummary

	// Handler error throttling: key is hook.
	errMu       sync.Mutex
	lastErrWarn map[string]time.Time
}

type Snapshot struct {
	Enabled        bool          `json:"enabled"`
	Running        bool          `json:"running"`
	Timezone       string        `json:"timezone"`
	Tick           string        `json:"tick"`
	HandlerTimeout time.Duration `json:"handler_timeout"`
	StartupSpread  time.Duration `json:"startup_spread"`
	Next           time.Time     `json:"next"`
	Prev           time.Time     `json:"prev"`
	LastTick       TickSummary   `json:"last_tick"`
	Handlers       []string      `json:"handlers"`
	History        []Fired       `json:"history"`
}
