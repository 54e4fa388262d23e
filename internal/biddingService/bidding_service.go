package bidding

import (
	"auction-tracker/internal/biddingerrors"
	"auction-tracker/internal/ledger"
	"auction-tracker/internal/lifecycle"
	"auction-tracker/internal/models"
	"auction-tracker/internal/notifier"
	"auction-tracker/internal/repository"
	"auction-tracker/utils"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CreateAuctionInput is what a seller provides to list an item
type CreateAuctionInput struct {
	Title           string
	Description     string
	StartingPrice   decimal.Decimal
	DurationMinutes int
	StartsAt        time.Time // zero means now
	SellerID        string
	ImageRef        string
}

// Snapshot is the state an observer fetches right after subscribing
type Snapshot struct {
	Auction   models.Auction  `json:"auction"`
	Leader    *models.Bid     `json:"leader,omitempty"`
	NextValue decimal.Decimal `json:"next_value"`
}

// BiddingService is the entry point for auction and bid operations
type BiddingService struct {
	repo     repository.AuctionDB
	ledger   *ledger.Ledger
	engine   *lifecycle.Engine
	notifier *notifier.Notifier
	now      func() time.Time
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, l *ledger.Ledger, engine *lifecycle.Engine, n *notifier.Notifier) *BiddingService {
	return &BiddingService{
		repo:     repo,
		ledger:   l,
		engine:   engine,
		notifier: n,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateAuction validates and stores a new auction. Its finalization time is
// fixed here. If the start time has already passed the auction opens right away.
func (s *BiddingService) CreateAuction(ctx context.Context, in CreateAuctionInput) (models.Auction, error) {
	if err := validateAuction(in); err != nil {
		return models.Auction{}, err
	}

	now := s.now()
	startsAt := in.StartsAt.UTC()
	if in.StartsAt.IsZero() {
		startsAt = now
	}

	auction := models.Auction{
		AuctionID:       utils.GenerateID(),
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		StartingPrice:   in.StartingPrice,
		DurationMinutes: in.DurationMinutes,
		StartsAt:        startsAt,
		EndsAt:          models.FinalizationTime(startsAt, in.DurationMinutes),
		CreatedAt:       now,
		Status:          models.StatusScheduled,
		SellerID:        in.SellerID,
		ImageRef:        in.ImageRef,
	}

	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to create auction: %w", err)
	}

	if _, err := s.engine.Advance(ctx, auction.AuctionID, now); err != nil {
		// the scheduler retries on its next scan
		utils.Warn("service: initial evaluation failed", map[string]any{
			"auction_id": auction.AuctionID,
			"error":      err.Error(),
		})
		return auction, nil
	}

	stored, err := s.repo.GetAuction(ctx, auction.AuctionID)
	if err != nil {
		return auction, nil
	}
	return stored, nil
}

// validateAuction checks seller input
func validateAuction(in CreateAuctionInput) error {
	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("service: %w - empty title", biddingerrors.ErrValidation)
	case in.SellerID == "":
		return fmt.Errorf("service: %w - missing sellerID", biddingerrors.ErrValidation)
	case in.StartingPrice.IsNegative():
		return fmt.Errorf("service: %w - negative starting price", biddingerrors.ErrValidation)
	case !models.ValidMoney(in.StartingPrice):
		return fmt.Errorf("service: %w - starting price %s must be below 10^16 with at most %d decimal places", biddingerrors.ErrValidation, in.StartingPrice, models.MoneyPlaces)
	case in.DurationMinutes <= 0:
		return fmt.Errorf("service: %w - duration must be a positive number of minutes", biddingerrors.ErrValidation)
	}
	return nil
}

// GetAuction returns a single auction
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (models.Auction, error) {
	if auctionID == "" {
		return models.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}

	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return models.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// ListAuctions returns auctions, optionally only those in status
func (s *BiddingService) ListAuctions(ctx context.Context, status *models.AuctionStatus) ([]models.Auction, error) {
	auctions, err := s.repo.ListAuctions(ctx, repository.AuctionFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}
	return auctions, nil
}

// PlaceBid places the next bid. With expected set, the bid is only accepted at that exact value.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID, bidderName string, expected *decimal.Decimal) (models.Bid, error) {
	var (
		bid models.Bid
		err error
	)
	if expected != nil {
		bid, err = s.ledger.SubmitValue(ctx, auctionID, bidderID, bidderName, *expected)
	} else {
		bid, err = s.ledger.Submit(ctx, auctionID, bidderID, bidderName)
	}
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to place bid on auction %s by bidder %s: %w", auctionID, bidderID, err)
	}
	return bid, nil
}

// GetBidHistory returns all bids for an auction, newest first
func (s *BiddingService) GetBidHistory(ctx context.Context, auctionID string) ([]models.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}

	bids, err := s.ledger.History(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetLeader returns the current winning bid, ErrNoBids when there is none
func (s *BiddingService) GetLeader(ctx context.Context, auctionID string) (models.Bid, error) {
	if auctionID == "" {
		return models.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrValidation)
	}

	leader, err := s.ledger.CurrentLeader(ctx, auctionID)
	if err != nil {
		return models.Bid{}, fmt.Errorf("service: failed to get leader for auction %s: %w", auctionID, err)
	}
	if leader == nil {
		return models.Bid{}, fmt.Errorf("service: auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return *leader, nil
}

// Subscribe attaches an observer and then returns the state to render first.
// Subscribing before reading means nothing published in between is missed;
// a bid may show up in both, observers dedupe by bid id.
func (s *BiddingService) Subscribe(ctx context.Context, auctionID string) (*notifier.Subscription, Snapshot, error) {
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return nil, Snapshot{}, err
	}

	sub := s.notifier.Subscribe(auctionID)
	snapshot, err := s.GetSnapshot(ctx, auctionID)
	if err != nil {
		sub.Unsubscribe()
		return nil, Snapshot{}, err
	}
	return sub, snapshot, nil
}

// GetSnapshot returns the auction with its leader and the value of the next bid
func (s *BiddingService) GetSnapshot(ctx context.Context, auctionID string) (Snapshot, error) {
	auction, err := s.GetAuction(ctx, auctionID)
	if err != nil {
		return Snapshot{}, err
	}
	leader, err := s.GetLeader(ctx, auctionID)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		return Snapshot{}, err
	}
	next, err := s.ledger.NextValue(ctx, auctionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("service: %w", err)
	}

	snap := Snapshot{Auction: auction, NextValue: next}
	if leader.BidID != "" {
		snap.Leader = &leader
	}
	return snap, nil
}
