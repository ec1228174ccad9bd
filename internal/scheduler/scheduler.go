// Package scheduler runs the periodic ingestion jobs: spot candles,
// futures metrics, and lending snapshots, each on its own cadence.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/riskwatch/riskwatch/internal/config"
	"github.com/riskwatch/riskwatch/internal/ingest"
)

// Scheduler manages background jobs
type Scheduler struct {
	cron   *cron.Cron
	cfg    *config.Config
	ingest *ingest.Service
	log    zerolog.Logger
}

// New creates a new scheduler
func New(cfg *config.Config, svc *ingest.Service, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		cfg:    cfg,
		ingest: svc,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

// Register wires the three ingestion jobs on their configured
// cadences.
func (s *Scheduler) Register() error {
	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{
			name:     "spot_fetch",
			schedule: fmt.Sprintf("@every %dh", s.cfg.FetchIntervalHours),
			run: func(ctx context.Context) {
				s.ingest.FetchLatestSpot(ctx)
			},
		},
		{
			name:     "futures_fetch",
			schedule: fmt.Sprintf("@every %dh", s.cfg.FuturesFundingIntervalHours),
			run: func(ctx context.Context) {
				s.ingest.FetchLatestFutures(ctx)
			},
		},
		{
			name:     "lending_fetch",
			schedule: fmt.Sprintf("@every %dh", s.cfg.LendingFetchIntervalHours),
			run: func(ctx context.Context) {
				s.ingest.FetchLendingSnapshots(ctx)
			},
		},
	}

	for _, job := range jobs {
		if err := s.addGuarded(job.name, job.schedule, job.run); err != nil {
			return fmt.Errorf("failed to register job %s: %w", job.name, err)
		}
	}
	return nil
}

// addGuarded registers a job that never overlaps itself: if the
// previous tick is still running the new one is skipped.
func (s *Scheduler) addGuarded(name, schedule string, run func(context.Context)) error {
	var running atomic.Bool

	_, err := s.cron.AddFunc(schedule, func() {
		if !running.CompareAndSwap(false, true) {
			s.log.Warn().Str("job", name).Msg("Previous run still in progress, skipping")
			return
		}
		defer running.Store(false)

		s.log.Debug().Str("job", name).Msg("Running job")
		run(context.Background())
		s.log.Debug().Str("job", name).Msg("Job completed")
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", name).
		Msg("Job registered")
	return nil
}

// Start runs the initial backfill and immediate catch-up, then starts
// the periodic schedule. The startup pass is resumable: completed
// (asset, metric) pairs are skipped via the backfill ledger.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		s.log.Info().Msg("Running startup backfill")
		s.ingest.BackfillAll(ctx, false)

		s.log.Info().Msg("Running startup catch-up")
		s.ingest.FetchLatestAll(ctx)
	}()

	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}
