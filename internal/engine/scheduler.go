package engine

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler periodically sweeps expired ACTIVE markets into LOCKED so they
// stop accepting wagers and their creators get flagged to resolve.
type Scheduler struct {
	svc      *Service
	interval time.Duration
}

// NewScheduler creates a scheduler ticking at the given interval.
func NewScheduler(svc *Service, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{svc: svc, interval: interval}
}

// Run ticks until ctx is cancelled. Must be called in a goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			locked, err := s.svc.Tick(ctx)
			if err != nil {
				slog.Error("lifecycle sweep failed", "err", err)
				continue
			}
			if locked > 0 {
				slog.Info("lifecycle sweep", "locked", locked)
			}
		}
	}
}
