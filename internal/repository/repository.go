package repository

import (
	"auction-tracker/internal/biddingerrors"
	model "auction-tracker/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the auction and bid storage interface
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error)
	ListDueAuctions(ctx context.Context, now time.Time) ([]model.Auction, error)
	UpdateAuctionStatus(ctx context.Context, update StatusUpdate) (bool, error)
	AppendBid(ctx context.Context, bid model.Bid) error
	ListBids(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetLeadingBid(ctx context.Context, auctionID string) (model.Bid, error)
}

// AuctionFilter narrows ListAuctions. Zero value lists everything.
type AuctionFilter struct {
	Status *model.AuctionStatus
	Limit  int
}

// StatusUpdate moves an auction from one status to the next.
// It only applies while the stored status still equals From.
type StatusUpdate struct {
	AuctionID    string
	From         model.AuctionStatus
	To           model.AuctionStatus
	WinnerID     *string
	WinningValue *decimal.Decimal
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu       sync.RWMutex
	auctions map[string]model.Auction // key: auctionID -> value: auction
	bids     map[string][]model.Bid   // key: auctionID -> value: bids in append order
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions: make(map[string]model.Auction),
		bids:     make(map[string][]model.Bid),
	}
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(_ context.Context, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w - empty auction id", biddingerrors.ErrValidation)
	}
	if _, exists := r.auctions[auction.AuctionID]; exists {
		return fmt.Errorf("create auction %s: %w - duplicate id", auction.AuctionID, biddingerrors.ErrValidation)
	}
	r.auctions[auction.AuctionID] = auction
	return nil
}

// GetAuction returns one auction by id
func (r *MemoryRepo) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return auction, nil
}

// ListAuctions returns auctions ordered by start time
func (r *MemoryRepo) ListAuctions(_ context.Context, filter AuctionFilter) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auctions := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		auctions = append(auctions, a)
	}
	sort.Slice(auctions, func(i, j int) bool {
		if auctions[i].StartsAt.Equal(auctions[j].StartsAt) {
			return auctions[i].AuctionID < auctions[j].AuctionID
		}
		return auctions[i].StartsAt.Before(auctions[j].StartsAt)
	})
	if filter.Limit > 0 && len(auctions) > filter.Limit {
		auctions = auctions[:filter.Limit]
	}
	return auctions, nil
}

// ListDueAuctions returns auctions not yet closed whose start or finalization time has passed
func (r *MemoryRepo) ListDueAuctions(_ context.Context, now time.Time) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []model.Auction
	for _, a := range r.auctions {
		switch a.Status {
		case model.StatusScheduled:
			if !now.Before(a.StartsAt) || !now.Before(a.EndsAt) {
				due = append(due, a)
			}
		case model.StatusOpen:
			if !now.Before(a.EndsAt) {
				due = append(due, a)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndsAt.Before(due[j].EndsAt) })
	return due, nil
}

// UpdateAuctionStatus applies the update only if the stored status still matches update.From
func (r *MemoryRepo) UpdateAuctionStatus(_ context.Context, update StatusUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auction, ok := r.auctions[update.AuctionID]
	if !ok {
		return false, fmt.Errorf("update auction %s: %w", update.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	if auction.Status != update.From || update.To <= update.From {
		return false, nil
	}

	auction.Status = update.To
	if update.To == model.StatusClosed {
		auction.WinnerID = update.WinnerID
		auction.WinningValue = update.WinningValue
	}
	r.auctions[update.AuctionID] = auction
	return true, nil
}

// AppendBid records an accepted bid
func (r *MemoryRepo) AppendBid(_ context.Context, bid model.Bid) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[bid.AuctionID]; !ok {
		return fmt.Errorf("append bid for auction %s: %w", bid.AuctionID, biddingerrors.ErrAuctionNotFound)
	}
	r.bids[bid.AuctionID] = append(r.bids[bid.AuctionID], bid)
	return nil
}

// ListBids returns all bids for an auction, newest first
func (r *MemoryRepo) ListBids(_ context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("list bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	stored := r.bids[auctionID]
	bids := make([]model.Bid, len(stored))
	for i, b := range stored {
		bids[len(stored)-1-i] = b
	}
	sort.SliceStable(bids, func(i, j int) bool { return bids[i].CreatedAt.After(bids[j].CreatedAt) })
	return bids, nil
}

// GetLeadingBid returns the highest bid for an auction
func (r *MemoryRepo) GetLeadingBid(_ context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return model.Bid{}, fmt.Errorf("get leading bid for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	bids := r.bids[auctionID]
	if len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("get leading bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}

	leading := bids[0]
	for _, b := range bids[1:] {
		if b.Outranks(leading) {
			leading = b
		}
	}
	return leading, nil
}

// AddAuction adds an auction without validation. This method is intended for tests and seeding only.
func (r *MemoryRepo) AddAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.AuctionID] = auction
}
