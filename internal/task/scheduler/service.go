package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crontrolhours/internal/eventbus"
	"crontrolhours/internal/storage"
	"crontrolhours/internal/window"
	logx "crontrolhours/pkg/logx"

	"github.com/robfig/cron/v3"
)

func New(cfg Config, store storage.Store, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:         withDefaults(cfg),
		log:         log.With(logx.String("comp", "scheduler")),
		bus:         bus,
		store:       store,
		recurrences: storage.DefaultRecurrences(),
		now:         time.Now,
		handlers:    map[string]Handler{},
		lastErrWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func withDefaults(cfg Config) Config {
	if strings.TrimSpace(cfg.Tick) == "" {
		cfg.Tick = DefaultTick
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return cfg
}

// Enabled reports the current config flag. (Thread-safe; Apply() may run concurrently.)
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Apply swaps the config. A running ticker restarts when the tick, timezone or
// enabled flag changed.
func (s *Service) Apply(cfg Config) {
	cfg = withDefaults(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cfg
	s.cfg = cfg
	if s.runCtx == nil {
		return
	}
	if strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone) ||
		strings.TrimSpace(old.Tick) != strings.TrimSpace(cfg.Tick) ||
		old.Enabled != cfg.Enabled {
		s.restartLocked()
	}
}

// Start begins ticking. ctx bounds every tick; cancelling it aborts in-flight handlers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx != nil {
		return nil
	}
	if _, err := ParseTick(s.cfg.Tick); err != nil {
		return fmt.Errorf("scheduler tick: %w", err)
	}
	s.runCtx = ctx
	s.startLocked()
	return nil
}

func (s *Service) startLocked() {
	cur := s.cfg
	s.log.Debug("start requested", logx.Bool("enabled", cur.Enabled), logx.String("tz", strings.TrimSpace(cur.Timezone)))

	loc := s.loadLocationLocked()
	s.loc = loc
	if !cur.Enabled {
		s.log.Info("dispatcher disabled; jobs will not fire")
		return
	}

	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(tickParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if err := s.addTickLocked(); err != nil {
		s.log.Error("invalid tick; dispatcher not started", logx.String("tick", cur.Tick), logx.Err(err))
		s.c = nil
		return
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.String("tick", cur.Tick), logx.Duration("spread", s.startupSpread))
}

func (s *Service) addTickLocked() error {
	tick, err := ParseTick(s.cfg.Tick)
	if err != nil {
		return err
	}
	runCtx := s.runCtx
	job := cron.FuncJob(func() {
		if _, err := s.RunDue(runCtx); err != nil {
			s.log.Warn("tick failed", logx.Err(err))
		}
	})
	s.startupSpread = 0
	if !tick.IsInterval() {
		id, err := s.c.AddJob(tick.Cron, job)
		if err != nil {
			return err
		}
		s.entryID = id
		return nil
	}
	sched, spread := intervalSchedule(tick.Every, time.Now().In(s.loc))
	s.entryID = s.c.Schedule(sched, job)
	s.startupSpread = spread
	return nil
}

func (s *Service) restartLocked() {
	if s.c != nil {
		// Do not wait here: a running tick may itself be calling Apply.
		s.c.Stop()
		s.c = nil
	}
	s.entryID = 0
	s.startLocked()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := window.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Stop stops ticking and waits for the running tick, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.log.Info("stop requested")

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.runCtx = nil
	s.entryID = 0
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
			// best-effort
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// cronLogger adapts logx to the cron.Logger used by the job wrappers.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
