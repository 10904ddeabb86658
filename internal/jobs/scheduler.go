package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"timeout/api/internal/config"
	"timeout/api/internal/service"
)

// Scheduler runs the periodic sweeps: force-ending overdue live sessions
// and the weekly study-progress reset. Both sweeps are conveniences on top
// of transactional operations, so a missed tick is never a correctness
// problem.
type Scheduler struct {
	cron       *cron.Cron
	cfg        config.JobsConfig
	profiles   *service.ProfileService
	classrooms *service.ClassroomService
	log        zerolog.Logger
}

func NewScheduler(cfg config.JobsConfig, profiles *service.ProfileService, classrooms *service.ClassroomService, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		cfg:        cfg,
		profiles:   profiles,
		classrooms: classrooms,
		log:        log,
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		return nil
	}

	if _, err := s.cron.AddFunc(s.cfg.SessionSweep, s.sweepOverdueSessions); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.cfg.WeeklyProgressReset, s.resetWeeklyProgress); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for in-flight jobs, up to a short grace period.
func (s *Scheduler) Stop() {
	select {
	case <-s.cron.Stop().Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out")
	}
}

func (s *Scheduler) sweepOverdueSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ended, err := s.classrooms.SweepOverdueSessions(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("overdue session sweep failed")
		return
	}
	if ended > 0 {
		s.log.Info().Int("ended", ended).Msg("overdue session sweep finished")
	}
}

func (s *Scheduler) resetWeeklyProgress() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	reset, err := s.profiles.ResetAllWeeklyProgress(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("weekly progress reset failed")
		return
	}
	s.log.Info().Int("reset", reset).Msg("weekly progress reset finished")
}
