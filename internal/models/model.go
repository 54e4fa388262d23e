package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction. Values only move forward.
type AuctionStatus int

const (
	StatusScheduled AuctionStatus = iota + 1
	StatusOpen
	StatusClosed
)

func (s AuctionStatus) String() string {
	switch s {
	case StatusScheduled:
		return "scheduled"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ParseAuctionStatus converts the string form back into an AuctionStatus
func ParseAuctionStatus(s string) (AuctionStatus, bool) {
	switch s {
	case "scheduled":
		return StatusScheduled, true
	case "open":
		return StatusOpen, true
	case "closed":
		return StatusClosed, true
	default:
		return 0, false
	}
}

// MarshalText lets statuses travel as strings in JSON payloads
func (s AuctionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AuctionStatus) UnmarshalText(text []byte) error {
	parsed, ok := ParseAuctionStatus(string(text))
	if !ok {
		return fmt.Errorf("unknown auction status %q", text)
	}
	*s = parsed
	return nil
}

// Auction represents one timed sale
type Auction struct {
	AuctionID       string           `json:"auction_id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	StartingPrice   decimal.Decimal  `json:"starting_price"`
	DurationMinutes int              `json:"duration_minutes"`
	StartsAt        time.Time        `json:"starts_at"`
	EndsAt          time.Time        `json:"ends_at"`
	CreatedAt       time.Time        `json:"created_at"`
	Status          AuctionStatus    `json:"status"`
	SellerID        string           `json:"seller_id"`
	WinnerID        *string          `json:"winner_id,omitempty"`
	WinningValue    *decimal.Decimal `json:"winning_value,omitempty"`
	ImageRef        string           `json:"image_ref,omitempty"`
}

// FinalizationTime returns start + max duration
func FinalizationTime(startsAt time.Time, durationMinutes int) time.Time {
	return startsAt.Add(time.Duration(durationMinutes) * time.Minute)
}

// MoneyPlaces is the number of decimal places prices and bids are stored with
const MoneyPlaces = 2

// maxMoney is the first value that no longer fits NUMERIC(18,2)
var maxMoney = decimal.New(1, 16)

// ValidMoney reports whether d can be stored without rounding
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Round(MoneyPlaces)) && d.Abs().LessThan(maxMoney)
}

// Bid represents an accepted offer on an auction
type Bid struct {
	BidID      string          `json:"bid_id"`
	AuctionID  string          `json:"auction_id"`
	BidderID   string          `json:"bidder_id"`
	BidderName string          `json:"bidder_name"`
	Value      decimal.Decimal `json:"value"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Outranks reports whether b beats other as leader: higher value, then earlier
// creation, then lower bid id.
func (b Bid) Outranks(other Bid) bool {
	if c := b.Value.Cmp(other.Value); c != 0 {
		return c > 0
	}
	if !b.CreatedAt.Equal(other.CreatedAt) {
		return b.CreatedAt.Before(other.CreatedAt)
	}
	return b.BidID < other.BidID
}

// TransitionResult is the outcome of evaluating an auction's deadlines
type TransitionResult int

const (
	NoChange TransitionResult = iota
	MovedToOpen
	MovedToClosed
)

func (r TransitionResult) String() string {
	switch r {
	case MovedToOpen:
		return "moved_to_open"
	case MovedToClosed:
		return "moved_to_closed"
	default:
		return "no_change"
	}
}

// EventType identifies what a published Event carries
type EventType string

const (
	EventBidAccepted          EventType = "bid_accepted"
	EventAuctionStatusChanged EventType = "auction_status_changed"
)

// Event is broadcast to every observer of an auction
type Event struct {
	Type       EventType     `json:"type"`
	AuctionID  string        `json:"auction_id"`
	Bid        *Bid          `json:"bid,omitempty"`
	Status     AuctionStatus `json:"status,omitempty"`
	PrevStatus AuctionStatus `json:"prev_status,omitempty"`
	WinnerID   *string       `json:"winner_id,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}
