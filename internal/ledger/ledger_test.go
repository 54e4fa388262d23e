package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"auction-tracker/internal/biddingerrors"
	"auction-tracker/internal/keylock"
	model "auction-tracker/internal/models"
	"auction-tracker/internal/notifier"
	"auction-tracker/internal/repository"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(event model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Event(nil), p.events...)
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// Helper to create an auction in the given status around now
func newAuction(id string, status model.AuctionStatus, now time.Time, startingPrice int64) model.Auction {
	starts := now.Add(-time.Minute)
	return model.Auction{
		AuctionID:       id,
		Title:           "title " + id,
		Description:     "description " + id,
		StartingPrice:   dec(startingPrice),
		DurationMinutes: 60,
		StartsAt:        starts,
		EndsAt:          model.FinalizationTime(starts, 60),
		CreatedAt:       starts,
		Status:          status,
		SellerID:        "seller1",
	}
}

func setupLedger(t *testing.T, now time.Time, auctions ...model.Auction) (*Ledger, *repository.MemoryRepo, *recordingPublisher) {
	t.Helper()
	repo := repository.NewMemoryRepo()
	for _, a := range auctions {
		repo.AddAuction(a)
	}
	pub := &recordingPublisher{}
	l := New(repo, pub, keylock.New(), dec(10), WithClock(func() time.Time { return now }))
	return l, repo, pub
}

func TestLedger_Submit(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scheduled := newAuction("scheduled", model.StatusScheduled, now, 100)
	scheduled.StartsAt = now.Add(time.Hour)
	expired := newAuction("expired", model.StatusOpen, now, 100)
	expired.EndsAt = now.Add(-time.Second)

	tests := []struct {
		name          string
		auctionID     string
		bidderID      string
		expectedError error
	}{
		{name: "first_bid_at_starting_price", auctionID: "open", bidderID: "user1"},
		{name: "unknown_auction", auctionID: "missing", bidderID: "user1", expectedError: biddingerrors.ErrAuctionNotFound},
		{name: "empty_auctionID", auctionID: "", bidderID: "user1", expectedError: biddingerrors.ErrValidation},
		{name: "empty_bidderID", auctionID: "open", bidderID: "", expectedError: biddingerrors.ErrValidation},
		{name: "scheduled_auction", auctionID: "scheduled", bidderID: "user1", expectedError: biddingerrors.ErrAuctionNotOpen},
		{name: "closed_auction", auctionID: "closed", bidderID: "user1", expectedError: biddingerrors.ErrAuctionNotOpen},
		{name: "deadline_passed_before_scan", auctionID: "expired", bidderID: "user1", expectedError: biddingerrors.ErrAuctionNotOpen},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			l, _, pub := setupLedger(t, now,
				newAuction("open", model.StatusOpen, now, 100),
				newAuction("closed", model.StatusClosed, now, 100),
				scheduled,
				expired,
			)

			bid, err := l.Submit(context.Background(), tc.auctionID, tc.bidderID, "name")
			if tc.expectedError != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				require.Empty(t, pub.Events())
				return
			}

			require.NoError(t, err)
			require.NotEmpty(t, bid.BidID)
			require.Equal(t, tc.auctionID, bid.AuctionID)
			require.Equal(t, tc.bidderID, bid.BidderID)
			require.True(t, dec(100).Equal(bid.Value))
			require.Equal(t, now, bid.CreatedAt)

			events := pub.Events()
			require.Len(t, events, 1)
			require.Equal(t, model.EventBidAccepted, events[0].Type)
			require.Equal(t, bid, *events[0].Bid)
		})
	}
}

func TestLedger_MonotonicValues(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _, _ := setupLedger(t, now, newAuction("a1", model.StatusOpen, now, 100))
	ctx := context.Background()

	var previous *model.Bid
	for i := 0; i < 20; i++ {
		bid, err := l.Submit(ctx, "a1", fmt.Sprintf("user-%d", i%3), "name")
		require.NoError(t, err)
		if previous != nil {
			require.True(t, bid.Value.GreaterThan(previous.Value))
			require.True(t, bid.Value.Equal(previous.Value.Add(dec(10))))
			require.True(t, bid.CreatedAt.After(previous.CreatedAt))
		}
		b := bid
		previous = &b
	}

	leader, err := l.CurrentLeader(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, *previous, *leader)

	history, err := l.History(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, history, 20)
	require.Equal(t, *previous, history[0])
	for i := 1; i < len(history); i++ {
		require.True(t, history[i-1].Value.GreaterThan(history[i].Value))
	}
}

func TestLedger_ScenarioConcurrentPair(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _, _ := setupLedger(t, now, newAuction("a1", model.StatusOpen, now, 100))
	ctx := context.Background()

	first, err := l.Submit(ctx, "a1", "user1", "Ana")
	require.NoError(t, err)
	require.True(t, dec(100).Equal(first.Value))

	second, err := l.Submit(ctx, "a1", "user2", "Bia")
	require.NoError(t, err)
	require.True(t, dec(110).Equal(second.Value))

	next, err := l.NextValue(ctx, "a1")
	require.NoError(t, err)
	require.True(t, dec(120).Equal(next))

	var wg sync.WaitGroup
	results := make([]error, 2)
	bids := make([]model.Bid, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bids[i], results[i] = l.SubmitValue(ctx, "a1", fmt.Sprintf("racer-%d", i), "racer", next)
		}(i)
	}
	wg.Wait()

	var accepted, tooLow int
	for i, err := range results {
		switch {
		case err == nil:
			accepted++
			require.True(t, dec(120).Equal(bids[i].Value))
		case errors.Is(err, biddingerrors.ErrBidTooLow):
			tooLow++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, tooLow)
}

func TestLedger_SingleWinnerUnderRace(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _, pub := setupLedger(t, now, newAuction("a1", model.StatusOpen, now, 50))
	ctx := context.Background()

	const racers = 64
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	start := make(chan struct{})

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := l.SubmitValue(ctx, "a1", fmt.Sprintf("user-%d", i), "racer", dec(50))
			errs <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	var accepted int
	for err := range errs {
		if err == nil {
			accepted++
			continue
		}
		require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)
	}
	require.Equal(t, 1, accepted)
	require.Len(t, pub.Events(), 1)
}

func TestLedger_SubmitValueAboveNext(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _, _ := setupLedger(t, now, newAuction("a1", model.StatusOpen, now, 100))

	_, err := l.SubmitValue(context.Background(), "a1", "user1", "name", dec(500))
	require.ErrorIs(t, err, biddingerrors.ErrValidation)
}

func TestLedger_CurrentLeader(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, repo, _ := setupLedger(t, now, newAuction("a1", model.StatusOpen, now, 100))
	ctx := context.Background()

	leader, err := l.CurrentLeader(ctx, "a1")
	require.NoError(t, err)
	require.Nil(t, leader)

	_, err = l.CurrentLeader(ctx, "missing")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

	// a ledger created over existing rows loads its leader from the store
	tie1 := model.Bid{BidID: "b1", AuctionID: "a1", BidderID: "u1", Value: dec(200), CreatedAt: now.Add(-2 * time.Second)}
	tie2 := model.Bid{BidID: "b2", AuctionID: "a1", BidderID: "u2", Value: dec(200), CreatedAt: now.Add(-time.Second)}
	require.NoError(t, repo.AppendBid(ctx, tie2))
	require.NoError(t, repo.AppendBid(ctx, tie1))

	fresh := New(repo, &recordingPublisher{}, keylock.New(), dec(10), WithClock(func() time.Time { return now }))
	leader, err = fresh.CurrentLeader(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, tie1, *leader)

	next, err := fresh.NextValue(ctx, "a1")
	require.NoError(t, err)
	require.True(t, dec(210).Equal(next))
}

func TestLedger_HistoryUnknownAuction(t *testing.T) {
	t.Parallel()

	l, _, _ := setupLedger(t, time.Now().UTC())
	_, err := l.History(context.Background(), "missing")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
}

func TestLedger_PublishesThroughNotifier(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := repository.NewMemoryRepo()
	repo.AddAuction(newAuction("a1", model.StatusOpen, now, 100))
	n := notifier.New(0, nil)
	l := New(repo, n, keylock.New(), dec(10), WithClock(func() time.Time { return now }))

	sub := n.Subscribe("a1")
	defer sub.Unsubscribe()

	for i := 0; i < 5; i++ {
		_, err := l.Submit(context.Background(), "a1", "user1", "name")
		require.NoError(t, err)
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-sub.Events():
			require.True(t, dec(100+int64(i)*10).Equal(ev.Bid.Value))
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestLedger_RepositoryFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mockRepo := repository.NewMockAuctionDB(ctrl)
	pub := &recordingPublisher{}
	l := New(mockRepo, pub, keylock.New(), dec(10), WithClock(func() time.Time { return now }))
	open := newAuction("a1", model.StatusOpen, now, 100)

	tests := []struct {
		name          string
		mockSetup     func()
		expectedError error
	}{
		{
			name: "append_fails",
			mockSetup: func() {
				mockRepo.EXPECT().GetAuction(gomock.Any(), "a1").Return(open, nil)
				mockRepo.EXPECT().GetLeadingBid(gomock.Any(), "a1").Return(model.Bid{}, biddingerrors.ErrNoBids)
				mockRepo.EXPECT().AppendBid(gomock.Any(), gomock.Any()).Return(errors.New("repo write failed"))
			},
		},
		{
			name: "store_rejects_duplicate_value",
			mockSetup: func() {
				mockRepo.EXPECT().GetAuction(gomock.Any(), "a1").Return(open, nil)
				mockRepo.EXPECT().AppendBid(gomock.Any(), gomock.Any()).Return(biddingerrors.ErrBidTooLow)
			},
			expectedError: biddingerrors.ErrBidTooLow,
		},
		{
			name: "leader_lookup_fails",
			mockSetup: func() {
				mockRepo.EXPECT().GetAuction(gomock.Any(), "a1").Return(open, nil)
				mockRepo.EXPECT().GetLeadingBid(gomock.Any(), "a1").Return(model.Bid{}, errors.New("db failure"))
			},
		},
	}

	// run sequentially: the leader cache carries state between cases
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.mockSetup()

			_, err := l.Submit(context.Background(), "a1", "user1", "name")
			require.Error(t, err)
			if tc.expectedError != nil {
				require.ErrorIs(t, err, tc.expectedError)
			}
			require.Empty(t, pub.Events())
		})
	}
}

func cachedLeader(l *Ledger, auctionID string) bool {
	l.cacheMu.RLock()
	defer l.cacheMu.RUnlock()
	_, ok := l.leaders[auctionID]
	return ok
}

func TestLedger_LeaderCache(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l, _, _ := setupLedger(t, now, newAuction("a1", model.StatusOpen, now, 100), newAuction("a2", model.StatusOpen, now, 100))
	ctx := context.Background()

	// reads alone never populate the cache
	_, err := l.CurrentLeader(ctx, "a2")
	require.NoError(t, err)
	require.False(t, cachedLeader(l, "a2"))

	bid, err := l.Submit(ctx, "a1", "user1", "name")
	require.NoError(t, err)
	require.True(t, cachedLeader(l, "a1"))

	l.Forget("a1")
	require.False(t, cachedLeader(l, "a1"))

	leader, err := l.CurrentLeader(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, bid, *leader)
	require.False(t, cachedLeader(l, "a1"))

	// the next submission reloads the leader from the store
	next, err := l.Submit(ctx, "a1", "user2", "name")
	require.NoError(t, err)
	require.True(t, bid.Value.Add(dec(10)).Equal(next.Value))
}
