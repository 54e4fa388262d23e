// Package scheduler periodically closes and opens auctions whose deadlines have
// passed, independently of request traffic.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"auction-tracker/internal/metrics"
	model "auction-tracker/internal/models"
	"auction-tracker/utils"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval       = 5 * time.Second
	DefaultCycleTimeout   = 30 * time.Second
	DefaultAuctionTimeout = 5 * time.Second
	DefaultConcurrency    = 8
)

// DueLister returns auctions that are not closed and have a passed deadline
type DueLister interface {
	ListDueAuctions(ctx context.Context, now time.Time) ([]model.Auction, error)
}

// Advancer applies a due transition exactly once
type Advancer interface {
	Advance(ctx context.Context, auctionID string, now time.Time) (model.TransitionResult, error)
}

// Config tunes the scheduler. Zero fields take the defaults above.
type Config struct {
	CycleTimeout   time.Duration
	AuctionTimeout time.Duration
	MaxConcurrency int
}

// Scheduler scans due auctions on a fixed interval. Auctions are evaluated
// independently: a failure or stall on one does not abort the others, and a
// failed transition is picked up again on the next cycle.
type Scheduler struct {
	auctions DueLister
	engine   Advancer
	metrics  metrics.MetricsCollector
	config   Config
	now      func() time.Time
}

// New creates a Scheduler
func New(auctions DueLister, engine Advancer, collector metrics.MetricsCollector, config Config) *Scheduler {
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = DefaultCycleTimeout
	}
	if config.AuctionTimeout <= 0 {
		config.AuctionTimeout = DefaultAuctionTimeout
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConcurrency
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Scheduler{
		auctions: auctions,
		engine:   engine,
		metrics:  collector,
		config:   config,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs one scan immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	utils.Info("deadline scheduler started", map[string]any{
		"interval":        interval.String(),
		"max_concurrency": s.config.MaxConcurrency,
	})

	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			utils.Info("deadline scheduler stopped", nil)
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.metrics.RecordSchedulerFailure()
		utils.Error("deadline scheduler cycle failed", map[string]any{"error": err.Error()})
	}
}

// RunOnce evaluates every due auction once.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, s.config.CycleTimeout)
	defer cancel()

	now := s.now()
	due, err := s.auctions.ListDueAuctions(cycleCtx, now)
	if err != nil {
		return fmt.Errorf("scheduler: list due auctions: %w", err)
	}
	if len(due) == 0 {
		s.metrics.RecordSchedulerCycle(time.Since(start), 0)
		utils.Debug("no auctions due", nil)
		return nil
	}

	var g errgroup.Group
	g.SetLimit(s.config.MaxConcurrency)

	for _, a := range due {
		auctionID := a.AuctionID
		g.Go(func() error {
			s.advance(cycleCtx, auctionID, now)
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(start)
	s.metrics.RecordSchedulerCycle(duration, len(due))
	utils.Info("deadline scan completed", map[string]any{
		"due_count":   len(due),
		"duration_ms": duration.Milliseconds(),
	})
	return nil
}

func (s *Scheduler) advance(ctx context.Context, auctionID string, now time.Time) {
	actx, cancel := context.WithTimeout(ctx, s.config.AuctionTimeout)
	defer cancel()

	res, err := s.engine.Advance(actx, auctionID, now)
	if err != nil {
		s.metrics.RecordSchedulerFailure()
		utils.Error("transition failed, retrying next cycle", map[string]any{
			"auction_id": auctionID,
			"error":      err.Error(),
		})
		return
	}
	if res != model.NoChange {
		utils.Debug("transition applied", map[string]any{
			"auction_id": auctionID,
			"result":     res.String(),
		})
	}
}
