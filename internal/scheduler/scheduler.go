package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"TrendSentinel/internal/logger"
	"TrendSentinel/internal/model"
)

// Jobs is what the scheduler drives. *monitor.Monitor implements it.
type Jobs interface {
	// RunCheckNow runs a cycle and returns false when one is already running.
	RunCheckNow(ctx context.Context) (model.CycleReport, bool)
	RunWeeklySummary(ctx context.Context) error
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron *cron.Cron
	Jobs Jobs
	Ctx  context.Context
}

// NewScheduler creates a new Scheduler. Panicking jobs are recovered and logged.
func NewScheduler(ctx context.Context, jobs Jobs) *Scheduler {
	cl := logger.CronLogger{L: log.Logger.With().Str("component", "cron").Logger()}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		Jobs: jobs,
		Ctx:  ctx,
	}
}

// RegisterAll registers the check cycles and the weekly summary.
func (s *Scheduler) RegisterAll(checkCrons []string, weeklyCron string) error {
	for _, spec := range checkCrons {
		if _, err := s.Cron.AddFunc(spec, s.checkTask); err != nil {
			return fmt.Errorf("register check task %q: %w", spec, err)
		}
	}
	if _, err := s.Cron.AddFunc(weeklyCron, s.weeklyTask); err != nil {
		return fmt.Errorf("register weekly task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Int("entries", len(s.Cron.Entries())).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// RunCheckNow runs a check cycle immediately (startup check). A tick that
// finds a cycle running, scheduled or manual, is dropped.
func (s *Scheduler) RunCheckNow() (model.CycleReport, bool) {
	return s.Jobs.RunCheckNow(s.Ctx)
}

func (s *Scheduler) checkTask() {
	log.Info().Msg("running scheduled check")
	s.RunCheckNow()
}

func (s *Scheduler) weeklyTask() {
	log.Info().Msg("running weekly summary")
	if err := s.Jobs.RunWeeklySummary(s.Ctx); err != nil {
		log.Error().Err(err).Msg("weekly summary")
	}
}
