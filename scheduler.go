package main

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

const jobTimeout = 30 * time.Second

// Scheduler runs the periodic matchmaking jobs
type Scheduler struct {
	sched gocron.Scheduler
	log   zerolog.Logger
}

// StartScheduler starts the reconcile tick (the poll fallback that pairs
// queued players nobody is polling for) and the stale queue sweep.
func StartScheduler(mm *Matchmaker, cfg Config, log zerolog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, eris.Wrap(err, "create scheduler")
	}
	s := &Scheduler{sched: sched, log: log.With().Str("component", "scheduler").Logger()}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.ReconcileInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if err := mm.Reconcile(ctx); err != nil {
				s.log.Error().Err(err).Msg("reconcile")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("reconcile"),
	)
	if err != nil {
		sched.Shutdown()
		return nil, eris.Wrap(err, "schedule reconcile")
	}

	_, err = sched.NewJob(
		gocron.DurationJob(cfg.SweepInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			defer cancel()
			if _, err := mm.Sweep(ctx, cfg.QueueTTL); err != nil {
				s.log.Error().Err(err).Msg("sweep")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("sweep"),
	)
	if err != nil {
		sched.Shutdown()
		return nil, eris.Wrap(err, "schedule sweep")
	}

	sched.Start()
	s.log.Info().
		Dur("reconcile_every", cfg.ReconcileInterval).
		Dur("sweep_every", cfg.SweepInterval).
		Msg("scheduler started")
	return s, nil
}

// Stop waits for running jobs and stops the scheduler
func (s *Scheduler) Stop() error {
	return eris.Wrap(s.sched.Shutdown(), "shutdown scheduler")
}
