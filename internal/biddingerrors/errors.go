package biddingerrors

import "errors"

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrNoBids          = errors.New("no bids found for auction")
)

// business logic errors
var (
	ErrValidation     = errors.New("validation error")
	ErrAuctionNotOpen = errors.New("auction not open")
	ErrBidTooLow      = errors.New("bid amount too low")
)

// notifier errors
var (
	ErrSlowObserver = errors.New("observer fell behind and was dropped")
)
