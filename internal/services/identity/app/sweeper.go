package app

import (
	"context"
	"time"

	"github.com/golang/glog"
)

type challengeSweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type pendingSweeper interface {
	SweepPendingConversions(ctx context.Context, now time.Time) (int, error)
}

// sweeper removes expired challenges and pending conversions. Reads already
// treat expired records as absent, so sweeping only reclaims space.
type sweeper struct {
	challenges challengeSweeper
	pending    pendingSweeper
	interval   time.Duration
	now        func() time.Time
}

func (s *sweeper) run(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *sweeper) sweepOnce(ctx context.Context) {
	now := s.now()
	if removed, err := s.challenges.Sweep(ctx, now); err != nil {
		glog.Warningf("sweep challenges: %v", err)
	} else if removed > 0 {
		glog.V(1).Infof("swept %d expired challenges", removed)
	}
	if removed, err := s.pending.SweepPendingConversions(ctx, now); err != nil {
		glog.Warningf("sweep pending conversions: %v", err)
	} else if removed > 0 {
		glog.V(1).Infof("swept %d expired pending conversions", removed)
	}
}
