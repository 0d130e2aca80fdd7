package sync

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/wesm/argh/internal/engine"
	"github.com/wesm/argh/internal/models"
)

// Repositories lists the repositories a pass covers
type Repositories func() []models.Repository

// Scheduler runs sync passes on an interval and ticks the engine between
// them so expired snoozes wake without remote changes
type Scheduler struct {
	syncer   *Syncer
	engine   *engine.Engine
	repos    Repositories
	interval time.Duration
	tick     time.Duration
}

// NewScheduler creates a scheduler. tick defaults to one minute and never
// exceeds interval.
func NewScheduler(syncer *Syncer, eng *engine.Engine, repos Repositories, interval, tick time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if tick <= 0 {
		tick = time.Minute
	}
	if tick > interval {
		tick = interval
	}
	return &Scheduler{syncer: syncer, engine: eng, repos: repos, interval: interval, tick: tick}
}

// Start runs a pass immediately and then every interval until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	syncTicker := time.NewTicker(s.interval)
	defer syncTicker.Stop()
	clock := time.NewTicker(s.tick)
	defer clock.Stop()

	logger.WithFields(log.Fields{
		"interval": s.interval,
		"workers":  s.syncer.workers,
	}).Info("Sync scheduler started")

	s.runLogged(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Sync scheduler stopped")
			return
		case <-syncTicker.C:
			s.runLogged(ctx)
		case <-clock.C:
			if err := s.engine.Tick(); err != nil {
				if errors.Is(err, engine.ErrClosed) {
					return
				}
				logger.WithError(err).Warn("Engine tick failed")
			}
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Sync pass failed")
	}
}

// RunOnce runs one sync pass over every repository. While the remote
// source is rate limited the pass is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if until := s.syncer.RateLimitedUntil(); !until.IsZero() {
		logger.WithField("until", until.Format(time.RFC3339)).Info("Skipping sync pass while rate limited")
		return nil
	}

	repos := s.repos()
	if len(repos) == 0 {
		logger.Info("No repositories to sync")
		return nil
	}

	start := time.Now()
	results, err := s.syncer.SyncAll(ctx, repos)
	logger.WithFields(log.Fields{
		"repos":     len(repos),
		"committed": len(results),
		"duration":  time.Since(start).Round(time.Millisecond),
	}).Info("Sync pass finished")
	return err
}
