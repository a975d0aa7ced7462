// Package reaper runs the periodic idle-session sweep spec §4.8 describes,
// grounded on the teacher's infrastructure/tunnel/session/reaper.go almost
// verbatim — the loop shape doesn't change, only what it reaps.
package reaper

import (
	"context"
	"time"

	"tunvpn/application/logging"
)

// IdleReaper is implemented by the session table.
type IdleReaper interface {
	ReapIdle(timeout time.Duration) int
}

// Run blocks until ctx is cancelled, calling ReapIdle every interval.
// Reaping is disabled (spec §4.8/§8) when timeout or interval is zero or
// negative: Run then just waits for cancellation instead of constructing a
// ticker with a non-positive period.
func Run(ctx context.Context, r IdleReaper, timeout, interval time.Duration, log logging.Logger) {
	if timeout <= 0 || interval <= 0 {
		log.Infof("reaper: disabled (timeout=%s interval=%s)", timeout, interval)
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ReapIdle(timeout); n > 0 {
				log.Infof("reaper: reaped %d idle session(s)", n)
			}
		}
	}
}
