// Package pipeline runs the exchange's scheduled background jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

const archiveLockTTL = 30 * time.Minute

// Archiver copies events older than the retention window and the current
// pool snapshots to cold storage on a cron schedule.
type Archiver struct {
	blobArchiver  domain.Archiver
	locks         domain.LockManager
	retentionDays int
	logger        *slog.Logger
	now           func() time.Time
}

// NewArchiver creates a new Archiver. locks may be nil when a single replica
// runs the schedule.
func NewArchiver(blobArchiver domain.Archiver, locks domain.LockManager, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		locks:         locks,
		retentionDays: retentionDays,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Result summarises one archive run.
type Result struct {
	Cutoff time.Time
	Events int64
	Pools  int64
}

// Run executes a single archive run. If another replica holds the archive
// lock the run is skipped and Run returns a zero Result.
func (a *Archiver) Run(ctx context.Context) (Result, error) {
	now := a.now()
	res := Result{Cutoff: now.Add(-time.Duration(a.retentionDays) * 24 * time.Hour)}

	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, "archive:"+now.Format("2006-01-02"), archiveLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Info("archive run skipped, lock held elsewhere")
			return Result{}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("acquiring archive lock: %w", err)
		}
		defer unlock()
	}

	a.logger.Info("starting archive run",
		slog.Time("cutoff", res.Cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	var err error
	if res.Events, err = a.blobArchiver.ArchiveEvents(ctx, res.Cutoff); err != nil {
		return res, fmt.Errorf("archiving events before %v: %w", res.Cutoff, err)
	}
	if res.Pools, err = a.blobArchiver.ArchivePools(ctx, now); err != nil {
		return res, fmt.Errorf("archiving pool snapshots at %v: %w", now, err)
	}

	a.logger.Info("archive run complete",
		slog.Int64("events_archived", res.Events),
		slog.Int64("pools_archived", res.Pools),
	)
	return res, nil
}

// RunCron runs the archiver on a five-field cron schedule until ctx is
// cancelled. Failed runs are logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextRun(sched, a.now())
		if err != nil {
			return fmt.Errorf("cron expression %q: %w", cronExpr, err)
		}
		wait := time.Until(next)
		a.logger.Debug("archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// nextRun returns the first activation of sched strictly after now. The
// schedule is evaluated in now's location unless it carries a CRON_TZ prefix.
func nextRun(sched cron.Schedule, now time.Time) (time.Time, error) {
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, errors.New("schedule never fires")
	}
	return next, nil
}
