package main

import (
	"context"
	"time"

	"FuseGate/internal/conf"
	"FuseGate/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// NewMaintenanceCron starts the background maintenance jobs: a sweep of
// idle in-process rate windows every minute, and a daily purge of audit
// rows past the configured retention.
func NewMaintenanceCron(local *data.MemoryWindowRepo, audit *data.AuditLoggerImpl, c *conf.Resilience, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	sweepWindow := maxConfiguredWindow(c)

	jobs := cron.New(cron.WithSeconds())

	// Every minute at :00 (sec min hour dom month dow)
	_, err := jobs.AddFunc("0 * * * * *", func() {
		local.Sweep(sweepWindow)
	})
	if err != nil {
		helper.Errorw("msg", "failed to register window sweep cron job", "error", err)
		return nil
	}

	if c != nil && c.AuditRetention.AsDuration() > 0 {
		retention := c.AuditRetention.AsDuration()

		// Daily at 03:00
		_, err = jobs.AddFunc("0 0 3 * * *", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()

			purged, err := audit.PurgeOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				helper.Errorw("msg", "audit retention purge failed", "error", err)
				return
			}
			if purged > 0 {
				helper.Infow("msg", "audit retention purge completed", "purged", purged)
			}
		})
		if err != nil {
			helper.Errorw("msg", "failed to register audit purge cron job", "error", err)
			return nil
		}
	}

	jobs.Start()
	helper.Infow("msg", "maintenance cron started", "sweep_window", sweepWindow)

	return jobs
}

// maxConfiguredWindow picks the widest rate limit window in use so the
// sweep never drops entries a narrower window still counts.
func maxConfiguredWindow(c *conf.Resilience) time.Duration {
	window := time.Minute
	if c == nil {
		return window
	}

	if c.DefaultLimit != nil {
		if d := c.DefaultLimit.Window.AsDuration(); d > window {
			window = d
		}
	}
	for _, rl := range c.Actions {
		if rl == nil {
			continue
		}
		if d := rl.Window.AsDuration(); d > window {
			window = d
		}
	}
	return window
}
