package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"umabot/pkg/logx"
)

// startWatchdog pings the systemd watchdog at half the configured interval.
// Outside systemd (WATCHDOG_USEC unset) it does nothing.
func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		a.log.Warn("systemd watchdog misconfigured", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	every := interval / 2
	a.log.Info("systemd watchdog enabled", logx.Duration("every", every))
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

// NotifyReady tells systemd the service is up. No-op outside systemd.
func NotifyReady() { _, _ = daemon.SdNotify(false, daemon.SdNotifyReady) }

// NotifyStopping tells systemd shutdown has begun.
func NotifyStopping() { _, _ = daemon.SdNotify(false, daemon.SdNotifyStopping) }
