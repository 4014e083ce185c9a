package app

import (
	"fmt"
	"strings"
	"time"

	"crontrolhours/internal/admin"
	"crontrolhours/internal/config"
	"crontrolhours/internal/storage"
	"crontrolhours/internal/task/scheduler"
	logx "crontrolhours/pkg/logx"
)

const defaultJobsPath = "./crontrol"

// mapStorageConfig resolves the job store config. An omitted section uses the file
// driver next to the working directory.
func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "file", Path: defaultJobsPath}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = defaultJobsPath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	case "redis":
		if sc.Redis == nil || strings.TrimSpace(sc.Redis.Addr) == "" {
			return storage.Config{}, fmt.Errorf("storage.redis.addr is required when storage.driver=redis")
		}
		return storage.Config{Driver: "redis", Redis: storage.RedisConfig{
			Addr:     strings.TrimSpace(sc.Redis.Addr),
			Username: sc.Redis.Username,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		}}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDurationOrDefault("scheduler.handler_timeout", cfg.Scheduler.HandlerTimeout, scheduler.DefaultHandlerTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	tick := strings.TrimSpace(cfg.Scheduler.Tick)
	if tick == "" {
		tick = scheduler.DefaultTick
	}
	if _, err := scheduler.ParseTick(tick); err != nil {
		return scheduler.Config{}, fmt.Errorf("scheduler.tick: %w", err)
	}
	return scheduler.Config{
		Enabled:        cfg.Scheduler.Enabled,
		Tick:           tick,
		Timezone:       cfg.Scheduler.Timezone,
		HandlerTimeout: timeout,
		HistorySize:    cfg.Scheduler.HistorySize,
	}, nil
}

func mapAdminConfig(cfg *config.Config) (admin.Config, error) {
	ac := cfg.Admin
	read, err := config.ParseDurationOrDefault("admin.read_timeout", ac.ReadTimeout, 10*time.Second)
	if err != nil {
		return admin.Config{}, err
	}
	// 0 keeps long pprof profiles working.
	write, err := config.ParseDurationField("admin.write_timeout", ac.WriteTimeout)
	if err != nil {
		return admin.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("admin.idle_timeout", ac.IdleTimeout, time.Minute)
	if err != nil {
		return admin.Config{}, err
	}
	addr := strings.TrimSpace(ac.Addr)
	if addr == "" {
		addr = admin.DefaultAddr
	}
	return admin.Config{
		Enabled:       ac.Enabled,
		Addr:          addr,
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		RatePerSec:    ac.RatePerSec,
		Burst:         ac.Burst,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
		Pprof:         ac.Pprof,
	}, nil
}

func recurrences(cfg *config.Config) (storage.Recurrences, error) {
	extra, err := cfg.RecurrenceOverrides()
	if err != nil {
		return nil, err
	}
	return storage.DefaultRecurrences().With(extra), nil
}
