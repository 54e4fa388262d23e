package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	model "auction-tracker/internal/models"

	"github.com/shopspring/decimal"
)

// Config holds the application settings.
// It is read from the environment once at startup and treated as immutable.
type Config struct {
	// Server
	Port            string
	ShutdownTimeout time.Duration
	LogLevel        string

	// Database. Empty means the in-memory store.
	DatabaseURL        string
	SeedSampleAuctions bool // create a few demo auctions on startup

	// Bidding
	BidIncrement decimal.Decimal

	// Scheduler
	SchedulerInterval       time.Duration
	SchedulerCycleTimeout   time.Duration
	SchedulerAuctionTimeout time.Duration
	SchedulerMaxConcurrency int

	// Notifier
	NotifierBufferSize int

	// Rate limit on bid submission, per client
	RateLimitBidsPerSecond float64
	RateLimitBurst         int
}

// Load reads Config from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	increment, err := decimal.NewFromString(getEnvString("BID_INCREMENT", "10"))
	if err != nil {
		return nil, fmt.Errorf("BID_INCREMENT: %w", err)
	}
	if !increment.IsPositive() {
		return nil, fmt.Errorf("BID_INCREMENT must be positive, got %s", increment)
	}
	if !model.ValidMoney(increment) {
		return nil, fmt.Errorf("BID_INCREMENT must fit NUMERIC(18,%d), got %s", model.MoneyPlaces, increment)
	}
	cfg.BidIncrement = increment

	cfg.Port = getEnvString("PORT", "8080")
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SeedSampleAuctions = getEnvBool("SEED_SAMPLE_AUCTIONS", false)
	cfg.SchedulerInterval = getEnvDuration("SCHEDULER_INTERVAL", 5*time.Second)
	cfg.SchedulerCycleTimeout = getEnvDuration("SCHEDULER_CYCLE_TIMEOUT", 30*time.Second)
	cfg.SchedulerAuctionTimeout = getEnvDuration("SCHEDULER_AUCTION_TIMEOUT", 5*time.Second)
	cfg.SchedulerMaxConcurrency = getEnvInt("SCHEDULER_MAX_CONCURRENCY", 8)
	cfg.NotifierBufferSize = getEnvInt("NOTIFIER_BUFFER_SIZE", 256)
	cfg.RateLimitBidsPerSecond = getEnvFloat("RATE_LIMIT_BIDS_PER_SECOND", 5)
	cfg.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)

	return cfg, nil
}

// Addr returns the listen address for the HTTP server
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
