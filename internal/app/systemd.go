package app

import (
	"context"
	"time"

	logx "crontrolhours/pkg/logx"

	"github.com/coreos/go-systemd/v22/daemon"
)

// startSystemd reports readiness and, when the unit sets WatchdogSec, pings the
// watchdog at half the interval. Outside systemd both are no-ops.
func (a *App) startSystemd() {
	notifySystemd(a.log, daemon.SdNotifyReady)

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(ctx context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				notifySystemd(a.log, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func notifySystemd(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify", logx.String("state", state))
	}
}
