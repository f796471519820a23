package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/versofin/verso/internal/common"
	"github.com/versofin/verso/internal/interfaces"
)

// scheduler runs the periodic background jobs: FX rate refresh on its own
// cadence and the overnight holdings sync across all linked pairs.
type scheduler struct {
	cron   *cron.Cron
	config *common.Config
	fx     interfaces.FXService
	sync   interfaces.SyncService
	logger *common.Logger
}

func newScheduler(config *common.Config, fx interfaces.FXService, sync interfaces.SyncService, logger *common.Logger) *scheduler {
	return &scheduler{
		cron:   cron.New(),
		config: config,
		fx:     fx,
		sync:   sync,
		logger: logger,
	}
}

func (s *scheduler) start() {
	if spec := s.config.FX.RefreshSchedule; spec != "" {
		if _, err := s.cron.AddFunc(spec, s.refreshRates); err != nil {
			s.logger.Error().Err(err).Str("schedule", spec).Msg("Invalid FX refresh schedule")
		}
	}

	if spec := s.config.Sync.NightlySync; spec != "" {
		if _, err := s.cron.AddFunc(spec, s.nightlySync); err != nil {
			s.logger.Error().Err(err).Str("schedule", spec).Msg("Invalid nightly sync schedule")
		}
	} else {
		s.logger.Info().Msg("Nightly sync disabled")
	}

	s.cron.Start()
	s.logger.Info().
		Str("fx_schedule", s.config.FX.RefreshSchedule).
		Str("sync_schedule", s.config.Sync.NightlySync).
		Msg("Scheduler started")
}

func (s *scheduler) stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Scheduler jobs still running at shutdown")
	}
}

func (s *scheduler) refreshRates() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := s.fx.RefreshRates(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled FX rate refresh failed")
	}
}

func (s *scheduler) nightlySync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	start := time.Now()
	if err := s.sync.SyncAllLinked(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Overnight sync batch failed")
		return
	}
	s.logger.Info().Dur("duration", time.Since(start)).Msg("Overnight sync batch complete")
}
