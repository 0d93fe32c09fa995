package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/MahdiBaghbani/circleinvite/internal/platform/logutil"
)

// Sweeper runs SweepExpired on a fixed interval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper creates a sweeper. interval must be positive.
func NewSweeper(svc *Service, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{svc: svc, interval: interval, log: logutil.NoopIfNil(log)}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.svc.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("expiry sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.log.Info("expired invitations", "count", n)
	}
}
