package helpers

import (
	"time"

	bidding "auction-tracker/internal/biddingService"
	model "auction-tracker/internal/models"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs
type CreateAuctionRequest struct {
	Title           string          `json:"title" binding:"required"`
	Description     string          `json:"description"`
	StartingPrice   decimal.Decimal `json:"starting_price"`
	DurationMinutes int             `json:"duration_minutes" binding:"required,gt=0"`
	StartsAt        *time.Time      `json:"starts_at,omitempty"`
	SellerID        string          `json:"seller_id" binding:"required"`
	ImageRef        string          `json:"image_ref,omitempty"`
}

// PlaceBidRequest asks for the next bid. ExpectedValue pins the value the
// bidder saw; if someone else got there first the bid is rejected as too low.
type PlaceBidRequest struct {
	BidderID      string           `json:"bidder_id" binding:"required"`
	BidderName    string           `json:"bidder_name"`
	ExpectedValue *decimal.Decimal `json:"expected_value,omitempty"`
}

type BidResponse struct {
	BidID      string `json:"bid_id"`
	AuctionID  string `json:"auction_id"`
	BidderID   string `json:"bidder_id"`
	BidderName string `json:"bidder_name"`
	Value      string `json:"value"`
	CreatedAt  string `json:"created_at"`
}

type AuctionResponse struct {
	AuctionID       string  `json:"auction_id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	StartingPrice   string  `json:"starting_price"`
	DurationMinutes int     `json:"duration_minutes"`
	StartsAt        string  `json:"starts_at"`
	EndsAt          string  `json:"ends_at"`
	Status          string  `json:"status"`
	SellerID        string  `json:"seller_id"`
	WinnerID        *string `json:"winner_id,omitempty"`
	WinningValue    *string `json:"winning_value,omitempty"`
	ImageRef        string  `json:"image_ref,omitempty"`
}

type SnapshotResponse struct {
	Auction   AuctionResponse `json:"auction"`
	Leader    *BidResponse    `json:"leader,omitempty"`
	NextValue string          `json:"next_value"`
}

type EventResponse struct {
	Type       string       `json:"type"`
	AuctionID  string       `json:"auction_id"`
	Bid        *BidResponse `json:"bid,omitempty"`
	Status     string       `json:"status,omitempty"`
	PrevStatus string       `json:"prev_status,omitempty"`
	WinnerID   *string      `json:"winner_id,omitempty"`
	OccurredAt string       `json:"occurred_at"`
}

// ToCreateAuctionInput converts the request to service input
func (r CreateAuctionRequest) ToCreateAuctionInput() bidding.CreateAuctionInput {
	in := bidding.CreateAuctionInput{
		Title:           r.Title,
		Description:     r.Description,
		StartingPrice:   r.StartingPrice,
		DurationMinutes: r.DurationMinutes,
		SellerID:        r.SellerID,
		ImageRef:        r.ImageRef,
	}
	if r.StartsAt != nil {
		in.StartsAt = *r.StartsAt
	}
	return in
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func ToBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:      bid.BidID,
		AuctionID:  bid.AuctionID,
		BidderID:   bid.BidderID,
		BidderName: bid.BidderName,
		Value:      bid.Value.String(),
		CreatedAt:  formatTime(bid.CreatedAt),
	}
}

func ToBidResponses(bids []model.Bid) []BidResponse {
	resp := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, ToBidResponse(b))
	}
	return resp
}

func ToAuctionResponse(a model.Auction) AuctionResponse {
	resp := AuctionResponse{
		AuctionID:       a.AuctionID,
		Title:           a.Title,
		Description:     a.Description,
		StartingPrice:   a.StartingPrice.String(),
		DurationMinutes: a.DurationMinutes,
		StartsAt:        formatTime(a.StartsAt),
		EndsAt:          formatTime(a.EndsAt),
		Status:          a.Status.String(),
		SellerID:        a.SellerID,
		WinnerID:        a.WinnerID,
		ImageRef:        a.ImageRef,
	}
	if a.WinningValue != nil {
		v := a.WinningValue.String()
		resp.WinningValue = &v
	}
	return resp
}

func ToAuctionResponses(auctions []model.Auction) []AuctionResponse {
	resp := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		resp = append(resp, ToAuctionResponse(a))
	}
	return resp
}

func ToSnapshotResponse(s bidding.Snapshot) SnapshotResponse {
	resp := SnapshotResponse{
		Auction:   ToAuctionResponse(s.Auction),
		NextValue: s.NextValue.String(),
	}
	if s.Leader != nil {
		leader := ToBidResponse(*s.Leader)
		resp.Leader = &leader
	}
	return resp
}

func ToEventResponse(ev model.Event) EventResponse {
	resp := EventResponse{
		Type:       string(ev.Type),
		AuctionID:  ev.AuctionID,
		WinnerID:   ev.WinnerID,
		OccurredAt: formatTime(ev.OccurredAt),
	}
	if ev.Bid != nil {
		bid := ToBidResponse(*ev.Bid)
		resp.Bid = &bid
	}
	if ev.Type == model.EventAuctionStatusChanged {
		resp.Status = ev.Status.String()
		resp.PrevStatus = ev.PrevStatus.String()
	}
	return resp
}
