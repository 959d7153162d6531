// Package retention sweeps stale cached chat transcripts out of the
// local store on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"astrolink/pkg/config"
	"astrolink/pkg/logger"
	"astrolink/pkg/store"
)

const defaultMaxAgeDays = 30

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg *config.Config, s *store.Store) (context.CancelFunc, error) {
	ret := cfg.Retention
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	// map empty cron to default daily @02:00
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}
	maxAge := ret.MaxAgeDays
	if maxAge <= 0 {
		maxAge = defaultMaxAgeDays
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_age_days", maxAge)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, s, cronExpr, maxAge)
	return cancel, nil
}

// RunOnce purges transcripts older than maxAgeDays immediately.
func RunOnce(s *store.Store, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = defaultMaxAgeDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays).UnixNano()
	n, err := s.PurgeChatMessagesBefore(cutoff)
	if err != nil {
		logger.Error("retention_run_error", "error", err)
		return 0, err
	}
	logger.Info("retention_run_done", "purged", n)
	return n, nil
}

// runScheduler uses gronx to compute the next tick for the configured
// cron expression and sleeps until that time.
func runScheduler(ctx context.Context, s *store.Store, cronExpr string, maxAgeDays int) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			_, _ = RunOnce(s, maxAgeDays)
			// small sleep to avoid a tight loop around the tick
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			_, _ = RunOnce(s, maxAgeDays)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}
