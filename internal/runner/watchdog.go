package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// watchdog periodically looks for an application that stopped making progress
// until ctx is done.
func (c *Controller) watchdog(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkStuck()
		}
	}
}

// checkStuck abandons the pending application when nothing changed for the
// stuck timeout. The main loop then logs the job as failed and moves on.
// Once recoveries reach the configured bound the run is stopped.
func (c *Controller) checkStuck() bool {
	c.mu.Lock()
	st := c.st
	if st == nil || !st.IsRunning || !st.PendingApplication {
		c.mu.Unlock()
		return false
	}
	idle := c.now().Sub(st.LastActionTime)
	if idle < c.cfg.StuckTimeout {
		c.mu.Unlock()
		return false
	}

	st.PendingApplication = false
	st.WatchdogRecoveries++
	st.Touch(c.now())
	recoveries := st.WatchdogRecoveries
	exhausted := recoveries >= c.cfg.MaxWatchdogRecoveries
	if exhausted {
		c.requestStopLocked("watchdog recovery limit reached")
	}
	cancel := c.jobCancel
	site := st.Site
	c.mu.Unlock()

	if cancel != nil {
		cancel(ErrStuck)
	}
	c.deps.Metrics.ObserveWatchdog(site)
	c.runLogger().Warn("application stuck, abandoning",
		zap.Duration("idle", idle),
		zap.Int("recoveries", recoveries),
		zap.Bool("stopping", exhausted),
	)
	return true
}
