package process

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"sunset/internal/store"
)

// sweepConcurrency bounds how many accounts one sweep resumes at once.
const sweepConcurrency = 4

// Sweeper periodically resumes every closure whose latest audit record is
// still in progress.
type Sweeper struct {
	runner   *Runner
	store    store.AuditStore
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper creates a Sweeper. interval defaults to 15 minutes.
func NewSweeper(r *Runner, st store.AuditStore, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{
		runner:   r,
		store:    st,
		interval: interval,
		log:      log.With("component", "sweeper"),
	}
}

// Run sweeps on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.store == nil {
		return errors.New("sweeper: audit store is required")
	}
	s.log.Info("sweeper started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce resumes the active closures, a few at a time, and returns how
// many were resumed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	active, err := s.store.ListActiveClosures(ctx)
	if err != nil {
		s.log.Error("listing active closures failed", "error", err)
		return 0
	}

	var n atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, ev := range active {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := s.runner.Resume(gctx, ev.AccountID, ev.TransferRelationshipID)
			n.Add(1)
			if !res.Success {
				s.log.Warn("sweep resume failed",
					"account_id", ev.AccountID,
					"step", res.Step,
					"code", res.Code,
					"error", res.Error,
				)
				return nil
			}
			s.log.Info("sweep resumed closure",
				"account_id", ev.AccountID,
				"step", res.Step,
				"action", res.ActionTaken,
			)
			return nil
		})
	}
	g.Wait()
	return int(n.Load())
}
