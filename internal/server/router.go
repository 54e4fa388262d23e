package server

import (
	"net/http"

	bidding "auction-tracker/internal/biddingService"
	"auction-tracker/internal/metrics"
	handler "auction-tracker/services/bidding/handler"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Options tunes the router. The zero value disables rate limiting and /metrics.
type Options struct {
	BidLimiter *RateLimiter
	Gatherer   prometheus.Gatherer
}

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService *bidding.BiddingService, opts Options) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging

	biddingHandler := handler.NewBiddingHandler(biddingService)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(opts.Gatherer)))
	}

	placeBid := []gin.HandlerFunc{biddingHandler.PlaceBidHandler}
	if opts.BidLimiter != nil {
		placeBid = append([]gin.HandlerFunc{opts.BidLimiter.Middleware()}, placeBid...)
	}

	auctions := router.Group("/auctions")
	{
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("", biddingHandler.ListAuctionsHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.POST("/:auction_id/bids", placeBid...)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidHistoryHandler)
		auctions.GET("/:auction_id/leader", biddingHandler.GetLeaderHandler)
		auctions.GET("/:auction_id/events", biddingHandler.StreamEventsHandler)
	}

	return router
}
