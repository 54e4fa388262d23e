package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bidding "auction-tracker/internal/biddingService"
	"auction-tracker/internal/config"
	"auction-tracker/internal/keylock"
	"auction-tracker/internal/ledger"
	"auction-tracker/internal/lifecycle"
	"auction-tracker/internal/metrics"
	"auction-tracker/internal/notifier"
	"auction-tracker/internal/repository"
	"auction-tracker/internal/scheduler"
	"auction-tracker/internal/server"
	"auction-tracker/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	utils.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		utils.Fatal("failed to open repository", map[string]any{"error": err.Error()})
	}
	defer closeRepo()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	events := notifier.New(cfg.NotifierBufferSize, collector)

	locks := keylock.New()
	bidLedger := ledger.New(repo, events, locks, cfg.BidIncrement, ledger.WithMetrics(collector))
	engine := lifecycle.NewEngine(repo, bidLedger, events, locks, collector)
	biddingSvc := bidding.NewBiddingService(repo, bidLedger, engine, events)

	if cfg.SeedSampleAuctions {
		prepopulateAuctions(ctx, biddingSvc)
	}

	sched := scheduler.New(repo, engine, collector, scheduler.Config{
		CycleTimeout:   cfg.SchedulerCycleTimeout,
		AuctionTimeout: cfg.SchedulerAuctionTimeout,
		MaxConcurrency: cfg.SchedulerMaxConcurrency,
	})
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Start(ctx, cfg.SchedulerInterval)
	}()

	router := server.SetupRouter(biddingSvc, server.Options{
		BidLimiter: server.NewRateLimiter(cfg.RateLimitBidsPerSecond, cfg.RateLimitBurst),
		Gatherer:   reg,
	})
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.Info("starting auction server", map[string]any{
			"addr":      cfg.Addr(),
			"increment": cfg.BidIncrement.String(),
			"postgres":  cfg.DatabaseURL != "",
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Error("server stopped unexpectedly", map[string]any{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	utils.Info("shutting down", nil)

	// close observer streams first so Shutdown does not wait on them
	events.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("graceful shutdown failed", map[string]any{"error": err.Error()})
	}
	<-schedDone
}

// openRepository returns the Postgres store when DATABASE_URL is set, otherwise the in-memory one
func openRepository(ctx context.Context, cfg *config.Config) (repository.AuctionDB, func(), error) {
	if cfg.DatabaseURL == "" {
		utils.Info("using in-memory repository", nil)
		return repository.NewMemoryRepo(), func() {}, nil
	}

	if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
		return nil, nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := repository.OpenPostgres(openCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	utils.Info("using postgres repository", nil)
	return repository.NewPostgresRepo(db), func() { db.Close() }, nil
}

// prepopulateAuctions adds sample auctions for local runs
func prepopulateAuctions(ctx context.Context, svc *bidding.BiddingService) {
	samples := []bidding.CreateAuctionInput{
		{Title: "title1", Description: "description1", StartingPrice: decimal.NewFromInt(100), DurationMinutes: 30, SellerID: "seller1"},
		{Title: "title2", Description: "description2", StartingPrice: decimal.NewFromInt(200), DurationMinutes: 60, SellerID: "seller2"},
		{Title: "title3", Description: "description3", StartingPrice: decimal.NewFromInt(150), DurationMinutes: 5, SellerID: "seller1", StartsAt: time.Now().Add(2 * time.Minute)},
	}

	for _, in := range samples {
		auction, err := svc.CreateAuction(ctx, in)
		if err != nil {
			utils.Warn("failed to seed auction", map[string]any{"title": in.Title, "error": err.Error()})
			continue
		}
		utils.Info("seeded auction", map[string]any{"auction_id": auction.AuctionID, "status": auction.Status.String()})
	}
}
