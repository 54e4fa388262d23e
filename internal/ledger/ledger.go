// Package ledger keeps the append-only bid record of each auction and decides
// the value of the next acceptable bid.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"auction-tracker/internal/biddingerrors"
	"auction-tracker/internal/keylock"
	"auction-tracker/internal/metrics"
	model "auction-tracker/internal/models"
	"auction-tracker/internal/repository"
	"auction-tracker/utils"

	"github.com/shopspring/decimal"
)

// DefaultIncrement is the fixed step between consecutive bids
var DefaultIncrement = decimal.NewFromInt(10)

// Publisher receives events synchronously with the mutation that caused them
type Publisher interface {
	Publish(event model.Event)
}

// Ledger serializes bid submissions per auction through a shared keylock.Locker.
// The same locker must be given to the lifecycle engine so that closing an
// auction and accepting a bid never interleave.
type Ledger struct {
	repo      repository.AuctionDB
	publisher Publisher
	locks     *keylock.Locker
	increment decimal.Decimal
	metrics   metrics.MetricsCollector
	now       func() time.Time

	cacheMu sync.RWMutex
	leaders map[string]*model.Bid // key: auctionID -> leader, nil when the ledger is empty
}

// Option customizes a Ledger
type Option func(*Ledger)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.MetricsCollector) Option {
	return func(l *Ledger) {
		if c != nil {
			l.metrics = c
		}
	}
}

// New creates a Ledger. A non-positive increment falls back to DefaultIncrement.
func New(repo repository.AuctionDB, publisher Publisher, locks *keylock.Locker, increment decimal.Decimal, opts ...Option) *Ledger {
	if !increment.IsPositive() {
		increment = DefaultIncrement
	}
	l := &Ledger{
		repo:      repo,
		publisher: publisher,
		locks:     locks,
		increment: increment,
		metrics:   metrics.Nop{},
		now:       func() time.Time { return time.Now().UTC() },
		leaders:   make(map[string]*model.Bid),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Increment returns the fixed bid step
func (l *Ledger) Increment() decimal.Decimal {
	return l.increment
}

// Submit places the next bid on behalf of bidderID. The value is computed by the
// ledger: the starting price for the first bid, otherwise leader + increment.
func (l *Ledger) Submit(ctx context.Context, auctionID, bidderID, bidderName string) (model.Bid, error) {
	return l.submit(ctx, auctionID, bidderID, bidderName, nil)
}

// SubmitValue places the next bid only if it would be exactly expected.
// A caller holding a stale view of the auction gets ErrBidTooLow.
func (l *Ledger) SubmitValue(ctx context.Context, auctionID, bidderID, bidderName string, expected decimal.Decimal) (model.Bid, error) {
	return l.submit(ctx, auctionID, bidderID, bidderName, &expected)
}

func (l *Ledger) submit(ctx context.Context, auctionID, bidderID, bidderName string, expected *decimal.Decimal) (model.Bid, error) {
	if auctionID == "" || bidderID == "" {
		l.metrics.RecordBidRejected("validation")
		return model.Bid{}, fmt.Errorf("ledger: %w - missing auctionID or bidderID", biddingerrors.ErrValidation)
	}

	unlock, err := l.locks.Lock(ctx, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("ledger: lock auction %s: %w", auctionID, err)
	}
	defer unlock()

	bid, err := l.submitLocked(ctx, auctionID, bidderID, bidderName, expected)
	if err != nil {
		l.metrics.RecordBidRejected(rejectReason(err))
		return model.Bid{}, err
	}
	l.metrics.RecordBidAccepted()
	return bid, nil
}

func (l *Ledger) submitLocked(ctx context.Context, auctionID, bidderID, bidderName string, expected *decimal.Decimal) (model.Bid, error) {
	auction, err := l.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("ledger: %w", err)
	}

	now := l.now()
	if auction.Status != model.StatusOpen || !now.Before(auction.EndsAt) {
		return model.Bid{}, fmt.Errorf("ledger: auction %s is %s: %w", auctionID, auction.Status, biddingerrors.ErrAuctionNotOpen)
	}

	leader, err := l.leaderLocked(ctx, auctionID)
	if err != nil {
		return model.Bid{}, err
	}
	next := nextValue(auction, leader, l.increment)

	if expected != nil {
		switch expected.Cmp(next) {
		case -1:
			return model.Bid{}, fmt.Errorf("ledger: %w - next bid is %s", biddingerrors.ErrBidTooLow, next.StringFixed(2))
		case 1:
			return model.Bid{}, fmt.Errorf("ledger: %w - bids move in steps of %s, next bid is %s",
				biddingerrors.ErrValidation, l.increment.StringFixed(2), next.StringFixed(2))
		}
	}

	if leader != nil && !now.After(leader.CreatedAt) {
		// keep creation timestamps strictly increasing within one ledger
		now = leader.CreatedAt.Add(time.Microsecond)
	}

	bid := model.Bid{
		BidID:      utils.GenerateBidID(now),
		AuctionID:  auctionID,
		BidderID:   bidderID,
		BidderName: bidderName,
		Value:      next,
		CreatedAt:  now,
	}

	if err := l.repo.AppendBid(ctx, bid); err != nil {
		if errors.Is(err, biddingerrors.ErrBidTooLow) {
			// the store holds a bid this process has not seen
			l.Forget(auctionID)
		}
		return model.Bid{}, fmt.Errorf("ledger: failed to record bid for auction %s by bidder %s: %w", auctionID, bidderID, err)
	}

	l.cacheMu.Lock()
	l.leaders[auctionID] = &bid
	l.cacheMu.Unlock()

	published := bid
	l.publisher.Publish(model.Event{
		Type:       model.EventBidAccepted,
		AuctionID:  auctionID,
		Bid:        &published,
		Status:     auction.Status,
		OccurredAt: now,
	})

	return bid, nil
}

// CurrentLeader returns the winning bid, or nil when no bid was accepted yet.
// Reads never fill the cache; only submissions do.
func (l *Ledger) CurrentLeader(ctx context.Context, auctionID string) (*model.Bid, error) {
	l.cacheMu.RLock()
	leader, ok := l.leaders[auctionID]
	l.cacheMu.RUnlock()
	if ok {
		return copyBid(leader), nil
	}
	return l.storedLeader(ctx, auctionID)
}

// leaderLocked is CurrentLeader for callers holding the auction lock
func (l *Ledger) leaderLocked(ctx context.Context, auctionID string) (*model.Bid, error) {
	l.cacheMu.RLock()
	leader, ok := l.leaders[auctionID]
	l.cacheMu.RUnlock()
	if ok {
		return copyBid(leader), nil
	}

	leader, err := l.storedLeader(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	l.cacheMu.Lock()
	l.leaders[auctionID] = copyBid(leader)
	l.cacheMu.Unlock()
	return leader, nil
}

func (l *Ledger) storedLeader(ctx context.Context, auctionID string) (*model.Bid, error) {
	stored, err := l.repo.GetLeadingBid(ctx, auctionID)
	switch {
	case errors.Is(err, biddingerrors.ErrNoBids):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("ledger: %w", err)
	}
	return &stored, nil
}

// Forget drops the cached leader of an auction. The lifecycle engine calls it
// once the auction is closed.
func (l *Ledger) Forget(auctionID string) {
	l.cacheMu.Lock()
	delete(l.leaders, auctionID)
	l.cacheMu.Unlock()
}

// NextValue returns what the next accepted bid would be worth
func (l *Ledger) NextValue(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	auction, err := l.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ledger: %w", err)
	}
	leader, err := l.CurrentLeader(ctx, auctionID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return nextValue(auction, leader, l.increment), nil
}

// History returns every accepted bid for the auction, newest first
func (l *Ledger) History(ctx context.Context, auctionID string) ([]model.Bid, error) {
	bids, err := l.repo.ListBids(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}
	if bids == nil {
		bids = []model.Bid{}
	}
	return bids, nil
}

func nextValue(auction model.Auction, leader *model.Bid, increment decimal.Decimal) decimal.Decimal {
	if leader == nil {
		return auction.StartingPrice
	}
	return leader.Value.Add(increment)
}

func copyBid(b *model.Bid) *model.Bid {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return "bid_too_low"
	case errors.Is(err, biddingerrors.ErrAuctionNotOpen):
		return "auction_not_open"
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return "not_found"
	case errors.Is(err, biddingerrors.ErrValidation):
		return "validation"
	default:
		return "error"
	}
}
