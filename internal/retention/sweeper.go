// Package retention deletes ended sessions once they age out.
package retention

import (
	"context"
	"fmt"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/storage"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@daily".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper removes ended sessions, their messages and transfer rows. Reports
// are never touched.
type Sweeper struct {
	store    *storage.Service
	cfg      config.RetentionConfig
	schedule cron.Schedule
	logger   *zap.Logger
	now      func() time.Time
}

func NewSweeper(store *storage.Service, cfg config.RetentionConfig, logger *zap.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = config.DefaultRetentionSchedule
	}
	expr := cfg.Schedule
	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		expr = "CRON_TZ=UTC " + expr
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", cfg.Schedule, err)
	}
	return &Sweeper{
		store:    store,
		cfg:      cfg,
		schedule: sched,
		logger:   logging.OrNop(logger),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Sweep deletes every session that ended before the retention cutoff and
// returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.cfg.Cutoff(s.now())
	n, err := s.store.DeleteEndedSessionsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("expired sessions deleted", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// NextRun reports when the schedule fires after from.
func (s *Sweeper) NextRun(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Run sweeps on the schedule until ctx is cancelled. Schedules without an
// explicit CRON_TZ are evaluated in UTC.
func (s *Sweeper) Run(ctx context.Context) {
	c := cron.New(cron.WithParser(cronParser), cron.WithLocation(time.UTC))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("retention sweep failed", zap.Error(err))
		}
	}))
	c.Start()
	s.logger.Info("retention sweeper started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Time("next_run", s.NextRun(s.now())),
	)

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("retention sweeper stopped")
}
