package service

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "tgscraper/pkg/logx"
)

// Notifier reports lifecycle state to the service manager
// ("READY=1", "STATUS=...", "WATCHDOG=1", "STOPPING=1").
type Notifier interface {
	Notify(state string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}

// SystemdNotifier talks to systemd over $NOTIFY_SOCKET. Outside systemd every
// call is a no-op.
type SystemdNotifier struct {
	log logx.Logger
}

func NewSystemdNotifier(log logx.Logger) *SystemdNotifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SystemdNotifier{log: log}
}

func (n *SystemdNotifier) Notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}

// WatchdogInterval returns the unit's WatchdogSec, or 0 when the watchdog is
// off or the process is not supervised by systemd.
func WatchdogInterval(log logx.Logger) time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		if !log.IsZero() {
			log.Warn("systemd watchdog check failed", logx.Err(err))
		}
		return 0
	}
	return d
}
