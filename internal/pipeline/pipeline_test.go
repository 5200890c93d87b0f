package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

func TestNextRun(t *testing.T) {
	base := time.Date(2025, 6, 15, 10, 30, 20, 0, time.UTC)
	tests := []struct {
		name  string
		expr  string
		after time.Time
		want  time.Time
	}{
		{"monthly", "0 3 1 * *", base, time.Date(2025, 7, 1, 3, 0, 0, 0, time.UTC)},
		{"every minute", "* * * * *", base, time.Date(2025, 6, 15, 10, 31, 0, 0, time.UTC)},
		{"minute step", "*/15 * * * *", base, time.Date(2025, 6, 15, 10, 45, 0, 0, time.UTC)},
		{"hour list", "0 0,12 * * *", base, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)},
		// 2025-06-15 is a Sunday.
		{"weekday", "0 9 * * 1", base, time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)},
		{"weekday range", "0 9 * * 1-5", base, time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)},
		// Steps count from the field's lower bound: days 1, 3, ..., 31.
		{"day step", "0 0 */2 * *", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
		// Months 1, 4, 7, 10.
		{"quarterly", "0 0 1 */3 *", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
		// Day-of-month and day-of-week both restricted: either matches.
		{"dom or dow", "0 0 1 * 1", time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := cron.ParseStandard(tt.expr)
			require.NoError(t, err)
			got, err := nextRun(sched, tt.after)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunCronRejectsBadExpression(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewArchiver(&fakeArchiver{}, nil, 30, logger)
	for _, expr := range []string{"", "0 3 1 *", "60 * * * *", "* 24 * * *", "a * * * *"} {
		err := a.RunCron(context.Background(), expr)
		assert.Error(t, err, expr)
	}

	// Feb 30 never occurs.
	sched, err := cron.ParseStandard("0 0 30 2 *")
	require.NoError(t, err)
	_, err = nextRun(sched, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}

type fakeArchiver struct {
	eventsBefore time.Time
	poolsAt      time.Time
	err          error
}

func (f *fakeArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	f.eventsBefore = before
	return 7, f.err
}

func (f *fakeArchiver) ArchivePools(_ context.Context, at time.Time) (int64, error) {
	f.poolsAt = at
	return 3, nil
}

type fakeLocks struct {
	held     bool
	released int
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.held {
		return nil, domain.ErrLockHeld
	}
	return func() { f.released++ }, nil
}

func TestArchiverRun(t *testing.T) {
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("archives past retention", func(t *testing.T) {
		fa := &fakeArchiver{}
		locks := &fakeLocks{}
		a := NewArchiver(fa, locks, 90, logger)
		a.now = func() time.Time { return now }

		res, err := a.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Result{Cutoff: now.AddDate(0, 0, -90), Events: 7, Pools: 3}, res)
		assert.Equal(t, now.AddDate(0, 0, -90), fa.eventsBefore)
		assert.Equal(t, now, fa.poolsAt)
		assert.Equal(t, 1, locks.released)
	})

	t.Run("skips when lock held", func(t *testing.T) {
		fa := &fakeArchiver{}
		a := NewArchiver(fa, &fakeLocks{held: true}, 90, logger)
		res, err := a.Run(context.Background())
		require.NoError(t, err)
		assert.Zero(t, res)
		assert.True(t, fa.eventsBefore.IsZero())
	})

	t.Run("propagates archive errors", func(t *testing.T) {
		boom := errors.New("boom")
		a := NewArchiver(&fakeArchiver{err: boom}, nil, 30, logger)
		_, err := a.Run(context.Background())
		require.ErrorIs(t, err, boom)
	})
}
