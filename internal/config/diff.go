package config

import (
	"reflect"
	"strings"

	logx "crontrolhours/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.String("scheduler.handler_timeout", strings.TrimSpace(newCfg.Scheduler.HandlerTimeout)),
		)
	}

	// Storage (never log the redis password). Storage changes need a restart.
	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if !reflect.DeepEqual(oS, nS) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.String("storage.path", nS.Path),
			logx.Bool("storage.restart_required", true),
		)
	}

	if !reflect.DeepEqual(oldCfg.Settings, newCfg.Settings) {
		changed = append(changed, "settings")
		attrs = append(attrs,
			logx.String("settings.path", newCfg.Settings.Path),
			logx.Bool("settings.watch", newCfg.Settings.Watch),
			logx.Bool("settings.restart_required", oldCfg.Settings.Path != newCfg.Settings.Path || oldCfg.Settings.EnvPrefix != newCfg.Settings.EnvPrefix),
		)
	}

	// Admin (never log token)
	oA, nA := oldCfg.Admin, newCfg.Admin
	tokenChanged := oA.Token != nA.Token
	oA.Token, nA.Token = "", ""
	if tokenChanged || !reflect.DeepEqual(oA, nA) {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", newCfg.Admin.Enabled),
			logx.String("admin.addr", strings.TrimSpace(newCfg.Admin.Addr)),
			logx.Bool("admin.token_set", strings.TrimSpace(newCfg.Admin.Token) != ""),
			logx.Bool("admin.allow_insecure", newCfg.Admin.AllowInsecure),
			logx.Bool("admin.pprof", newCfg.Admin.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Recurrences, newCfg.Recurrences) {
		changed = append(changed, "recurrences")
		attrs = append(attrs, logx.Int("recurrences.count", len(newCfg.Recurrences)))
	}

	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	out := *s
	if s.Redis != nil {
		r := *s.Redis
		out.Redis = &r
	}
	return out
}
