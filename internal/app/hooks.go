package app

import (
	"context"
	"fmt"
	"time"

	"crontrolhours/internal/reschedule"
	"crontrolhours/internal/settings"
	"crontrolhours/internal/storage"
	logx "crontrolhours/pkg/logx"
)

const settingHookTimeout = 10 * time.Second

// registerHooks binds the maintenance hooks to the dispatcher and keeps derived state
// in sync when settings change.
func (a *App) registerHooks() {
	a.sched.Handle(reschedule.HookSweep, func(ctx context.Context, _ storage.Job) error {
		rep := a.resch.Sweep(ctx, false)
		if !rep.OK() {
			return fmt.Errorf("sweep %s finished with %d error(s)", rep.RunID, rep.Error)
		}
		return nil
	})
	a.sched.Handle(reschedule.HookCarryover, func(ctx context.Context, _ storage.Job) error {
		rep := a.resch.Carryover(ctx)
		if !rep.OK() {
			return fmt.Errorf("carryover %s finished with %d error(s)", rep.RunID, rep.Error)
		}
		return nil
	})

	a.settings.OnChange(a.onSettingChange)
}

func (a *App) onSettingChange(ch settings.Change) {
	switch ch.Name {
	case settings.StartTime, settings.EndTime:
		d, err := a.resch.RefreshDuration()
		if err != nil {
			a.log.Warn("window duration refresh failed", logx.String("setting", ch.Name), logx.Err(err))
			return
		}
		a.log.Info("window duration refreshed", logx.String("setting", ch.Name), logx.Duration("duration", d))
	case settings.RestrictFrequent:
		ctx, cancel := context.WithTimeout(context.Background(), settingHookTimeout)
		defer cancel()
		tr, err := a.resch.SyncCarryover(ctx)
		if err != nil {
			a.log.Warn("carryover sync failed", logx.Err(err))
			return
		}
		a.log.Info("carryover synced", logx.String("transition", tr.String()))
	}
}
