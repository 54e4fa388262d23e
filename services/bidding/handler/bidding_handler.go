package handler

import (
	"context"
	"net/http"

	bidding "auction-tracker/internal/biddingService"
	model "auction-tracker/internal/models"
	"auction-tracker/internal/notifier"
	"auction-tracker/services/bidding/helpers"
	"auction-tracker/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=bidding_handler.go -destination=mock_bidding_handler.go -package=handler

type BiddingServiceInterface interface {
	CreateAuction(ctx context.Context, in bidding.CreateAuctionInput) (model.Auction, error)
	ListAuctions(ctx context.Context, status *model.AuctionStatus) ([]model.Auction, error)
	GetSnapshot(ctx context.Context, auctionID string) (bidding.Snapshot, error)
	PlaceBid(ctx context.Context, auctionID, bidderID, bidderName string, expected *decimal.Decimal) (model.Bid, error)
	GetBidHistory(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetLeader(ctx context.Context, auctionID string) (model.Bid, error)
	Subscribe(ctx context.Context, auctionID string) (*notifier.Subscription, bidding.Snapshot, error)
}

type BiddingHandler struct {
	service BiddingServiceInterface
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	return &BiddingHandler{service: service}
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), req.ToCreateAuctionInput())
	if err != nil {
		helpers.HandleServiceError(c, "CreateAuctionHandler", err, map[string]any{
			"seller_id": req.SellerID,
			"title":     req.Title,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToAuctionResponse(auction), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"seller_id":  auction.SellerID,
		"status":     auction.Status.String(),
		"ends_at":    auction.EndsAt,
	})
}

// ListAuctionsHandler handles GET /auctions
func (h *BiddingHandler) ListAuctionsHandler(c *gin.Context) {
	status, err := helpers.ParseStatusFilter(c)
	if err != nil {
		helpers.HandleServiceError(c, "ListAuctionsHandler", err, nil)
		return
	}

	auctions, err := h.service.ListAuctions(c.Request.Context(), status)
	if err != nil {
		helpers.HandleServiceError(c, "ListAuctionsHandler", err, nil)
		return
	}

	utils.JSONListResponse(c, http.StatusOK, helpers.ToAuctionResponses(auctions), len(auctions), "auctions retrieved successfully")
	helpers.LogSuccess("ListAuctionsHandler", "auctions retrieved successfully", map[string]any{
		"count": len(auctions),
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	snap, err := h.service.GetSnapshot(c.Request.Context(), auctionID)
	if err != nil {
		helpers.HandleServiceError(c, "GetAuctionHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToSnapshotResponse(snap), "auction retrieved successfully")
	helpers.LogSuccess("GetAuctionHandler", "auction retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"status":     snap.Auction.Status.String(),
	})
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	bid, err := h.service.PlaceBid(c.Request.Context(), auctionID, req.BidderID, req.BidderName, req.ExpectedValue)
	if err != nil {
		helpers.HandleServiceError(c, "PlaceBidHandler", err, map[string]any{
			"auction_id": auctionID,
			"bidder_id":  req.BidderID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToBidResponse(bid), "bid recorded successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid recorded successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": bid.AuctionID,
		"bidder_id":  bid.BidderID,
		"value":      bid.Value.String(),
	})
}

// GetBidHistoryHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidHistoryHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBidHistory(c.Request.Context(), auctionID)
	if err != nil {
		helpers.HandleServiceError(c, "GetBidHistoryHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONListResponse(c, http.StatusOK, helpers.ToBidResponses(bids), len(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidHistoryHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}

// GetLeaderHandler handles GET /auctions/:auction_id/leader
func (h *BiddingHandler) GetLeaderHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bid, err := h.service.GetLeader(c.Request.Context(), auctionID)
	if err != nil {
		helpers.HandleServiceError(c, "GetLeaderHandler", err, map[string]any{"auction_id": auctionID})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToBidResponse(bid), "leading bid retrieved successfully")
	helpers.LogSuccess("GetLeaderHandler", "leading bid retrieved successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": auctionID,
		"bidder_id":  bid.BidderID,
		"value":      bid.Value.String(),
	})
}

// StreamEventsHandler handles GET /auctions/:auction_id/events.
// It writes a snapshot event first, then every change as a server-sent event,
// and returns once the auction closes, the client goes away or the observer is dropped.
func (h *BiddingHandler) StreamEventsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	ctx := c.Request.Context()

	sub, snap, err := h.service.Subscribe(ctx, auctionID)
	if err != nil {
		helpers.HandleServiceError(c, "StreamEventsHandler", err, map[string]any{"auction_id": auctionID})
		return
	}
	defer sub.Unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent("snapshot", helpers.ToSnapshotResponse(snap))
	c.Writer.Flush()
	helpers.LogSuccess("StreamEventsHandler", "observer attached", map[string]any{"auction_id": auctionID})

	if snap.Auction.Status == model.StatusClosed {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					c.SSEvent("error", gin.H{"error": err.Error()})
					c.Writer.Flush()
					utils.Warn("StreamEventsHandler: observer dropped", map[string]any{
						"auction_id": auctionID,
						"error":      err.Error(),
					})
				}
				return
			}
			if alreadyInSnapshot(snap, ev) {
				continue
			}

			c.SSEvent(string(ev.Type), helpers.ToEventResponse(ev))
			c.Writer.Flush()

			if ev.Type == model.EventAuctionStatusChanged && ev.Status == model.StatusClosed {
				return
			}
		}
	}
}

// alreadyInSnapshot reports whether ev was published before the snapshot was read.
// Accepted values strictly increase, so any bid at or below the snapshot leader is old.
func alreadyInSnapshot(snap bidding.Snapshot, ev model.Event) bool {
	switch ev.Type {
	case model.EventBidAccepted:
		return ev.Bid != nil && snap.Leader != nil && !ev.Bid.Value.GreaterThan(snap.Leader.Value)
	case model.EventAuctionStatusChanged:
		return ev.Status <= snap.Auction.Status
	}
	return false
}
