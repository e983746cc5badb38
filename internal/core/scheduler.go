package core

// scheduler.go runs background maintenance for the session registry.
//
// The janitor expires idle sessions. It is long-running and context-aware for
// graceful shutdown; a sweep never fails the application.

import (
	"context"
	"time"
)

// DefaultJanitorInterval is how often idle sessions are swept.
const DefaultJanitorInterval = time.Minute

// StartJanitor sweeps idle sessions every interval until ctx is cancelled.
// It blocks; run it in its own goroutine.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	s.logger.Info("session janitor started",
		"interval", interval.String(),
		"session_ttl", s.cfg.SessionTTL.String(),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session janitor stopped")
			return
		case <-ticker.C:
			start := time.Now()
			if n := s.SweepIdle(); n > 0 {
				s.logger.Debug("janitor sweep completed",
					"expired", n,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}
		}
	}
}
