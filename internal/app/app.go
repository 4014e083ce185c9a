package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crontrolhours/internal/admin"
	"crontrolhours/internal/config"
	"crontrolhours/internal/eventbus"
	"crontrolhours/internal/metrics"
	"crontrolhours/internal/reschedule"
	"crontrolhours/internal/runtime/supervisor"
	"crontrolhours/internal/settings"
	"crontrolhours/internal/storage"
	"crontrolhours/internal/task/scheduler"
	"crontrolhours/internal/window"
	logx "crontrolhours/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

const defaultSettingsPath = "./crontrol-settings.yaml"

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log      logx.Logger
	logs     *logx.Service
	bus      eventbus.Bus
	store    storage.Store
	settings *settings.Store
	metrics  *metrics.Metrics
	rec      storage.Recurrences

	resch *reschedule.Rescheduler
	sched *scheduler.Service
	admin *admin.Service
}

// New loads the config file and builds every component. Nothing runs until Start;
// one-shot commands use the components directly and call Close.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a, err := build(cfg, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgPath = cfgPath
	a.cfgm = cfgm
	return a, nil
}

func build(cfg *config.Config, logSvc *logx.Service, log logx.Logger) (*App, error) {
	loc, err := window.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	rec, err := recurrences(cfg)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	m := metrics.New(metrics.Options{
		GoCollector:      cfg.Admin.Metrics.GoCollector,
		ProcessCollector: cfg.Admin.Metrics.ProcessCollector,
	})

	setPath := strings.TrimSpace(cfg.Settings.Path)
	if setPath == "" {
		setPath = defaultSettingsPath
	}
	set, err := settings.Open(settings.Options{
		Path:      setPath,
		EnvPrefix: cfg.Settings.EnvPrefix,
		Logger:    log.With(logx.String("comp", "settings")),
		Bus:       bus,
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	resch := reschedule.New(store, set,
		reschedule.WithLogger(log),
		reschedule.WithLocation(loc),
		reschedule.WithMetrics(m),
		reschedule.WithBus(bus),
		reschedule.WithRecurrences(rec),
	)
	sched := scheduler.New(schedCfg, store, log, bus,
		scheduler.WithMetrics(m),
		scheduler.WithRecurrences(rec),
	)

	a := &App{
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		settings: set,
		metrics:  m,
		rec:      rec,
		resch:    resch,
		sched:    sched,
	}
	a.admin = admin.New(adminCfg, admin.Deps{
		Store:       store,
		Settings:    set,
		Rescheduler: resch,
		Dispatcher:  sched.Snapshot,
		Supervisor:  a.supervisorSnapshot,
	}, m, bus, log)
	a.registerHooks()
	return a, nil
}

func (a *App) Config() *config.Config {
	if a.cfgm == nil {
		return &config.Config{}
	}
	return a.cfgm.Get()
}

func (a *App) Logger() logx.Logger                  { return a.log }
func (a *App) Store() storage.Store                 { return a.store }
func (a *App) Settings() *settings.Store            { return a.settings }
func (a *App) Recurrences() storage.Recurrences     { return a.rec }
func (a *App) Rescheduler() *reschedule.Rescheduler { return a.resch }
func (a *App) Dispatcher() *scheduler.Service       { return a.sched }
func (a *App) Admin() *admin.Service                { return a.admin }
func (a *App) Bus() eventbus.Bus                    { return a.bus }
func (a *App) Metrics() *metrics.Metrics            { return a.metrics }

func (a *App) supervisorSnapshot() supervisor.Snapshot {
	if a.sup == nil {
		return supervisor.Snapshot{}
	}
	return a.sup.Snapshot()
}

// Close releases the store and the log file. Use it after one-shot commands; a
// started app is closed by Stop.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			if _, err := mapSchedulerConfig(cfg); err != nil {
				return err
			}
			if _, err := mapAdminConfig(cfg); err != nil {
				return err
			}
			_, err := mapStorageConfig(cfg)
			return err
		})
	}

	if err := a.ensureInstalled(runCtx); err != nil {
		return err
	}

	if err := a.sched.Start(runCtx); err != nil {
		return err
	}
	a.admin.Start(runCtx)

	a.startEventLog()
	if a.cfgm != nil {
		a.startConfigReload()
		a.sup.Go("config.watch", a.cfgm.Watch)
		if a.cfgm.Get().Settings.Watch && a.settings.Path() != "" {
			a.sup.GoRestart("settings.watch", func(c context.Context) error {
				return config.WatchFile(c, a.settings.Path(), a.log.With(logx.String("comp", "settings")), func() {
					if err := a.settings.Reload(); err != nil {
						a.log.Warn("settings reload failed", logx.Err(err))
					}
				})
			})
		}
	}
	a.startSystemd()

	a.log.Info("app started",
		logx.String("tz", a.resch.Location().String()),
		logx.Bool("dispatcher", a.sched.Enabled()),
		logx.Bool("admin", a.admin.Enabled()),
	)
	return nil
}

// ensureInstalled schedules the maintenance jobs when the primary one is missing, the
// same as running "crontrol install".
func (a *App) ensureInstalled(ctx context.Context) error {
	_, ok, err := a.store.Next(ctx, reschedule.HookSweep, nil)
	if err != nil {
		return fmt.Errorf("check maintenance job: %w", err)
	}
	if ok {
		if _, err := a.resch.SyncCarryover(ctx); err != nil {
			a.log.Warn("carryover sync failed", logx.Err(err))
		}
		return nil
	}
	if err := a.resch.Activate(ctx); err != nil {
		return fmt.Errorf("install maintenance jobs: %w", err)
	}
	return nil
}

// startEventLog logs bus events at debug level.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		switch s {
		case "storage", "recurrences":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		case "settings":
			if oldCfg.Settings.Path != newCfg.Settings.Path || oldCfg.Settings.EnvPrefix != newCfg.Settings.EnvPrefix || oldCfg.Settings.Watch != newCfg.Settings.Watch {
				a.log.Warn("settings config changed; restart required for changes to take effect")
			}
		}
	}
	if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		a.log.Warn("timezone changed; the dispatcher follows now, the window after a restart")
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if sc, err := mapSchedulerConfig(newCfg); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(sc)
	}

	if ac, err := mapAdminConfig(newCfg); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else {
		a.admin.Reconfigure(ctx, ac)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if max > 0 {
			var cancel context.CancelFunc
			// respect the caller's deadline; never extend it
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("dispatcher", 5*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	// Wait for supervised goroutines (config watch/reload, watchers) before closing the store.
	step("supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
