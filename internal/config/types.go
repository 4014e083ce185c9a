package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"crontrolhours/internal/window"
	logx "crontrolhours/pkg/logx"
)

// Config is the application config file. Policy values (window clocks, tracked
// intervals, ...) are not here; they live in the settings file.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Settings  SettingsConfig  `json:"settings"`
	Admin     AdminConfig     `json:"admin"`

	// Recurrences adds or overrides named recurrences, e.g. {"every_ten": "10m"}.
	Recurrences map[string]string `json:"recurrences,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// JSON prints console lines as JSON (journald, log shippers).
	JSON bool        `json:"json,omitempty"`
	File LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the job dispatcher and the site timezone.
//
// Defaults (when fields are omitted/zero):
//   - tick: "@every 1m"
//   - handler_timeout: "5m"
//   - history_size: 50
type SchedulerConfig struct {
	Enabled bool   `json:"enabled"`
	Tick    string `json:"tick,omitempty"`
	// Timezone is the site timezone: IANA name or fixed offset ("+02:00", "UTC-5").
	// Both the window and the dispatcher use it. Empty means Local.
	Timezone string `json:"timezone,omitempty"`
	// HandlerTimeout is a Go duration string (e.g. "30s", "5m").
	HandlerTimeout string `json:"handler_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the job store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./crontrol.db" }
type StorageConfig struct {
	Driver      string       `json:"driver"`
	Path        string       `json:"path"`
	BusyTimeout string       `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Redis       *RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// SettingsConfig locates the policy settings file.
type SettingsConfig struct {
	Path      string `json:"path"`
	EnvPrefix string `json:"env_prefix,omitempty"`
	// Watch reloads the file when it changes on disk.
	Watch bool `json:"watch,omitempty"`
}

// AdminConfig controls the admin HTTP API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8787").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8787"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// RatePerSec throttles the manual trigger endpoints. 0 means 1 per second.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	Pprof   bool          `json:"pprof,omitempty"`
	Metrics MetricsConfig `json:"metrics"`
}

type MetricsConfig struct {
	GoCollector      bool `json:"go_collector,omitempty"`
	ProcessCollector bool `json:"process_collector,omitempty"`
}

var knownDrivers = []string{"", "memory", "file", "sqlite", "sqlite3", "redis"}

// Validate checks everything that can be checked without opening resources.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if _, err := logx.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if _, err := window.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if _, err := ParseDurationField("scheduler.handler_timeout", c.Scheduler.HandlerTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Scheduler.HistorySize < 0 {
		errs = append(errs, errors.New("scheduler.history_size must be >= 0"))
	}
	if c.Storage != nil {
		drv := strings.ToLower(strings.TrimSpace(c.Storage.Driver))
		known := false
		for _, k := range knownDrivers {
			if drv == k {
				known = true
				break
			}
		}
		if !known {
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if drv == "redis" && (c.Storage.Redis == nil || strings.TrimSpace(c.Storage.Redis.Addr) == "") {
			errs = append(errs, errors.New("storage.redis.addr required for the redis driver"))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"admin.read_timeout", c.Admin.ReadTimeout},
		{"admin.write_timeout", c.Admin.WriteTimeout},
		{"admin.idle_timeout", c.Admin.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Admin.RatePerSec < 0 || c.Admin.Burst < 0 {
		errs = append(errs, errors.New("admin.rate_per_sec and admin.burst must be >= 0"))
	}
	if _, err := c.RecurrenceOverrides(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RecurrenceOverrides parses the recurrences section.
func (c *Config) RecurrenceOverrides() (map[string]time.Duration, error) {
	if len(c.Recurrences) == 0 {
		return nil, nil
	}
	out := make(map[string]time.Duration, len(c.Recurrences))
	for name, raw := range c.Recurrences {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, errors.New("recurrences: empty name")
		}
		d, err := ParseDurationField("recurrences."+name, raw)
		if err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("recurrences.%s: interval must be > 0", name)
		}
		out[name] = d
	}
	return out, nil
}
