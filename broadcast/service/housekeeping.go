package service

import (
	"context"
	"time"

	"github.com/nadimpalla570/myazan-app/internal/log"
)

const (
	defaultSweepInterval = 5 * time.Minute
)

// StartHousekeeping runs the periodic stale-session sweep until Stop (or
// ctx cancellation). The sweep's updates are idempotent, so overlap with
// start/end traffic and with another instance's sweep is harmless.
func (s *BroadcastService) StartHousekeeping(ctx context.Context) {
	if s.stopHousekeeping != nil {
		s.logger.Warn("Housekeeping already running")
		return
	}

	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stopHousekeeping = func() {
		cancel()
		<-done
	}

	ticker := s.clock.NewTicker(interval)
	s.logger.Info("Housekeeping started",
		log.Duration("interval", interval),
		log.Duration("staleness", s.cfg.Staleness))

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				s.sweep(ctx)
			}
		}
	}()
}

func (s *BroadcastService) sweep(ctx context.Context) {
	start := s.clock.Now()
	sweepRuns.Add(ctx, 1)

	reclaimed, err := s.manager.ReclaimStaleSessions(ctx, start, s.cfg.Staleness)
	if err != nil {
		s.logger.Error("Stale-session sweep failed", log.Error(err))
		return
	}

	sweepDuration.Record(ctx, s.clock.Since(start).Seconds())
	if reclaimed > 0 {
		s.logger.Info("Stale-session sweep reclaimed sessions",
			log.Int("reclaimed", reclaimed))
	}
}
