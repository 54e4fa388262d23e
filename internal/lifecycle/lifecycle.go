// Package lifecycle advances auctions through Scheduled -> Open -> Closed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-tracker/internal/biddingerrors"
	"auction-tracker/internal/keylock"
	"auction-tracker/internal/metrics"
	model "auction-tracker/internal/models"
	"auction-tracker/internal/repository"
	"auction-tracker/utils"
)

// Evaluate decides which transition is due for auction at now. It has no side
// effects, so calling it repeatedly with the same or later time is safe.
// A scheduled auction whose finalization time has already passed goes straight
// to MovedToClosed.
func Evaluate(auction model.Auction, now time.Time) model.TransitionResult {
	switch auction.Status {
	case model.StatusScheduled:
		if !now.Before(auction.EndsAt) {
			return model.MovedToClosed
		}
		if !now.Before(auction.StartsAt) {
			return model.MovedToOpen
		}
	case model.StatusOpen:
		if !now.Before(auction.EndsAt) {
			return model.MovedToClosed
		}
	}
	return model.NoChange
}

// LeaderCache is told when an auction's leader will never change again
type LeaderCache interface {
	Forget(auctionID string)
}

// Publisher receives status change events
type Publisher interface {
	Publish(event model.Event)
}

// Engine applies the transitions Evaluate reports, exactly once per transition.
type Engine struct {
	repo      repository.AuctionDB
	leaders   LeaderCache
	publisher Publisher
	locks     *keylock.Locker
	metrics   metrics.MetricsCollector
}

// NewEngine creates an Engine. locks must be the locker the ledger uses.
func NewEngine(repo repository.AuctionDB, leaders LeaderCache, publisher Publisher, locks *keylock.Locker, collector metrics.MetricsCollector) *Engine {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Engine{
		repo:      repo,
		leaders:   leaders,
		publisher: publisher,
		locks:     locks,
		metrics:   collector,
	}
}

// Advance evaluates the stored auction at now and, if a transition is due,
// writes it and publishes an AuctionStatusChanged event. The status is re-read
// inside the auction's critical section, so a transition already recorded is
// never applied twice.
func (e *Engine) Advance(ctx context.Context, auctionID string, now time.Time) (model.TransitionResult, error) {
	unlock, err := e.locks.Lock(ctx, auctionID)
	if err != nil {
		return model.NoChange, fmt.Errorf("lifecycle: lock auction %s: %w", auctionID, err)
	}
	defer unlock()

	auction, err := e.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.NoChange, fmt.Errorf("lifecycle: %w", err)
	}

	result := Evaluate(auction, now)
	if result == model.NoChange {
		return model.NoChange, nil
	}

	update := repository.StatusUpdate{
		AuctionID: auctionID,
		From:      auction.Status,
		To:        model.StatusOpen,
	}
	if result == model.MovedToClosed {
		update.To = model.StatusClosed
		// the store, not a process-local cache, names the winner
		leader, err := e.repo.GetLeadingBid(ctx, auctionID)
		switch {
		case errors.Is(err, biddingerrors.ErrNoBids):
		case err != nil:
			return model.NoChange, fmt.Errorf("lifecycle: winner for auction %s: %w", auctionID, err)
		default:
			winner := leader.BidderID
			value := leader.Value
			update.WinnerID = &winner
			update.WinningValue = &value
		}
	}

	applied, err := e.repo.UpdateAuctionStatus(ctx, update)
	if err != nil {
		return model.NoChange, fmt.Errorf("lifecycle: %w", err)
	}
	if update.To == model.StatusClosed && e.leaders != nil {
		e.leaders.Forget(auctionID)
	}
	if !applied {
		utils.Debug("lifecycle: transition already recorded", map[string]any{
			"auction_id": auctionID,
			"from":       update.From.String(),
			"to":         update.To.String(),
		})
		return model.NoChange, nil
	}

	e.metrics.RecordTransition(result.String())
	e.publisher.Publish(model.Event{
		Type:       model.EventAuctionStatusChanged,
		AuctionID:  auctionID,
		Status:     update.To,
		PrevStatus: update.From,
		WinnerID:   update.WinnerID,
		OccurredAt: now,
	})

	fields := map[string]any{
		"auction_id": auctionID,
		"from":       update.From.String(),
		"to":         update.To.String(),
	}
	if update.WinnerID != nil {
		fields["winner_id"] = *update.WinnerID
		fields["winning_value"] = update.WinningValue.StringFixed(2)
	}
	utils.Info("lifecycle: auction transitioned", fields)

	return result, nil
}
