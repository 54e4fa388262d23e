package bidding

import (
	"auction-tracker/internal/biddingerrors"
	"auction-tracker/internal/keylock"
	"auction-tracker/internal/ledger"
	"auction-tracker/internal/lifecycle"
	model "auction-tracker/internal/models"
	"auction-tracker/internal/notifier"
	"auction-tracker/internal/repository"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newService(repo repository.AuctionDB) (*BiddingService, *notifier.Notifier) {
	n := notifier.New(0, nil)
	locks := keylock.New()
	l := ledger.New(repo, n, locks, decimal.NewFromInt(10))
	engine := lifecycle.NewEngine(repo, l, n, locks, nil)
	return NewBiddingService(repo, l, engine, n), n
}

func validInput() CreateAuctionInput {
	return CreateAuctionInput{
		Title:           "Vintage camera",
		Description:     "Works fine",
		StartingPrice:   decimal.NewFromInt(100),
		DurationMinutes: 60,
		SellerID:        "seller1",
		ImageRef:        "images/camera.png",
	}
}

// Tests CreateAuction
func TestBiddingService_CreateAuction(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name          string
		input         func() CreateAuctionInput
		expectError   bool
		expectedError error
		wantStatus    model.AuctionStatus
	}{
		{
			name:       "starts_now_opens_immediately",
			input:      validInput,
			wantStatus: model.StatusOpen,
		},
		{
			name: "future_start_stays_scheduled",
			input: func() CreateAuctionInput {
				in := validInput()
				in.StartsAt = now.Add(time.Hour)
				return in
			},
			wantStatus: model.StatusScheduled,
		},
		{
			name: "zero_starting_price_allowed",
			input: func() CreateAuctionInput {
				in := validInput()
				in.StartingPrice = decimal.Zero
				return in
			},
			wantStatus: model.StatusOpen,
		},
		{
			name: "empty_title",
			input: func() CreateAuctionInput {
				in := validInput()
				in.Title = "   "
				return in
			},
			expectError:   true,
			expectedError: biddingerrors.ErrValidation,
		},
		{
			name: "missing_seller",
			input: func() CreateAuctionInput {
				in := validInput()
				in.SellerID = ""
				return in
			},
			expectError:   true,
			expectedError: biddingerrors.ErrValidation,
		},
		{
			name: "negative_price",
			input: func() CreateAuctionInput {
				in := validInput()
				in.StartingPrice = decimal.NewFromInt(-1)
				return in
			},
			expectError:   true,
			expectedError: biddingerrors.ErrValidation,
		},
		{
			name: "cents_price_allowed",
			input: func() CreateAuctionInput {
				in := validInput()
				in.StartingPrice = decimal.RequireFromString("99.99")
				return in
			},
			wantStatus: model.StatusOpen,
		},
		{
			name: "price_finer_than_cents",
			input: func() CreateAuctionInput {
				in := validInput()
				in.StartingPrice = decimal.RequireFromString("99.999")
				return in
			},
			expectError:   true,
			expectedError: biddingerrors.ErrValidation,
		},
		{
			name: "price_too_large",
			input: func() CreateAuctionInput {
				in := validInput()
				in.StartingPrice = decimal.New(1, 16)
				return in
			},
			expectError:   true,
			expectedError: biddingerrors.ErrValidation,
		},
		{
			name: "zero_duration",
			input: func() CreateAuctionInput {
				in := validInput()
				in.DurationMinutes = 0
				return in
			},
			expectError:   true,
			expectedError: biddingerrors.ErrValidation,
		},
		{
			name: "negative_duration",
			input: func() CreateAuctionInput {
				in := validInput()
				in.DurationMinutes = -10
				return in
			},
			expectError:   true,
			expectedError: biddingerrors.ErrValidation,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			service, _ := newService(repository.NewMemoryRepo())
			in := tc.input()

			auction, err := service.CreateAuction(context.Background(), in)
			if tc.expectError {
				require.Error(t, err)
				require.True(t, errors.Is(err, tc.expectedError), "expected error: %v, got: %v", tc.expectedError, err)
				return
			}

			require.NoError(t, err)
			_, parseErr := uuid.Parse(auction.AuctionID)
			require.NoError(t, parseErr, "AuctionID should be a valid UUID")
			require.Equal(t, tc.wantStatus, auction.Status)
			require.Equal(t, auction.StartsAt.Add(time.Duration(in.DurationMinutes)*time.Minute), auction.EndsAt)
			require.Equal(t, "Vintage camera", auction.Title)
			require.Nil(t, auction.WinnerID)
			require.WithinDuration(t, now, auction.CreatedAt, 2*time.Second)
		})
	}
}

func TestBiddingService_CreateAuction_RepoFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := repository.NewMockAuctionDB(ctrl)
	service, _ := newService(mockRepo)

	mockRepo.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).Return(errors.New("repo write failed"))

	_, err := service.CreateAuction(context.Background(), validInput())
	require.Error(t, err)
}

func TestBiddingService_CreateAuction_InitialEvaluationFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := repository.NewMockAuctionDB(ctrl)
	service, _ := newService(mockRepo)

	mockRepo.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).Return(nil)
	mockRepo.EXPECT().GetAuction(gomock.Any(), gomock.Any()).Return(model.Auction{}, errors.New("db failure"))

	auction, err := service.CreateAuction(context.Background(), validInput())
	require.NoError(t, err)
	require.Equal(t, model.StatusScheduled, auction.Status)
}

// Tests PlaceBid, GetLeader and GetBidHistory against the in-memory store
func TestBiddingService_BiddingFlow(t *testing.T) {
	t.Parallel()

	service, _ := newService(repository.NewMemoryRepo())
	ctx := context.Background()

	auction, err := service.CreateAuction(ctx, validInput())
	require.NoError(t, err)

	_, err = service.GetLeader(ctx, auction.AuctionID)
	require.ErrorIs(t, err, biddingerrors.ErrNoBids)

	first, err := service.PlaceBid(ctx, auction.AuctionID, "user1", "Ana", nil)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(100).Equal(first.Value))

	expected := decimal.NewFromInt(110)
	second, err := service.PlaceBid(ctx, auction.AuctionID, "user2", "Bia", &expected)
	require.NoError(t, err)
	require.True(t, expected.Equal(second.Value))

	stale := decimal.NewFromInt(110)
	_, err = service.PlaceBid(ctx, auction.AuctionID, "user3", "Caio", &stale)
	require.ErrorIs(t, err, biddingerrors.ErrBidTooLow)

	leader, err := service.GetLeader(ctx, auction.AuctionID)
	require.NoError(t, err)
	require.Equal(t, second, leader)

	history, err := service.GetBidHistory(ctx, auction.AuctionID)
	require.NoError(t, err)
	require.Equal(t, []model.Bid{second, first}, history)

	snap, err := service.GetSnapshot(ctx, auction.AuctionID)
	require.NoError(t, err)
	require.Equal(t, second, *snap.Leader)
	require.True(t, decimal.NewFromInt(120).Equal(snap.NextValue))
}

func TestBiddingService_EmptyIDs(t *testing.T) {
	t.Parallel()

	service, _ := newService(repository.NewMemoryRepo())
	ctx := context.Background()

	_, err := service.GetAuction(ctx, "")
	require.ErrorIs(t, err, biddingerrors.ErrValidation)
	_, err = service.GetBidHistory(ctx, "")
	require.ErrorIs(t, err, biddingerrors.ErrValidation)
	_, err = service.GetLeader(ctx, "")
	require.ErrorIs(t, err, biddingerrors.ErrValidation)
	_, err = service.PlaceBid(ctx, "", "user1", "Ana", nil)
	require.ErrorIs(t, err, biddingerrors.ErrValidation)
}

func TestBiddingService_UnknownAuction(t *testing.T) {
	t.Parallel()

	service, _ := newService(repository.NewMemoryRepo())
	ctx := context.Background()

	_, err := service.GetAuction(ctx, "nope")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
	_, err = service.GetBidHistory(ctx, "nope")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
	_, err = service.PlaceBid(ctx, "nope", "user1", "Ana", nil)
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
	_, _, err = service.Subscribe(ctx, "nope")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
}

func TestBiddingService_ListAuctions(t *testing.T) {
	t.Parallel()

	service, _ := newService(repository.NewMemoryRepo())
	ctx := context.Background()

	open, err := service.CreateAuction(ctx, validInput())
	require.NoError(t, err)

	future := validInput()
	future.StartsAt = time.Now().Add(time.Hour)
	scheduled, err := service.CreateAuction(ctx, future)
	require.NoError(t, err)

	all, err := service.ListAuctions(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	status := model.StatusScheduled
	onlyScheduled, err := service.ListAuctions(ctx, &status)
	require.NoError(t, err)
	require.Len(t, onlyScheduled, 1)
	require.Equal(t, scheduled.AuctionID, onlyScheduled[0].AuctionID)

	status = model.StatusOpen
	onlyOpen, err := service.ListAuctions(ctx, &status)
	require.NoError(t, err)
	require.Len(t, onlyOpen, 1)
	require.Equal(t, open.AuctionID, onlyOpen[0].AuctionID)
}

func TestBiddingService_Subscribe(t *testing.T) {
	t.Parallel()

	service, n := newService(repository.NewMemoryRepo())
	ctx := context.Background()

	auction, err := service.CreateAuction(ctx, validInput())
	require.NoError(t, err)

	sub, snap, err := service.Subscribe(ctx, auction.AuctionID)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.Equal(t, auction.AuctionID, snap.Auction.AuctionID)
	require.Nil(t, snap.Leader)
	require.True(t, decimal.NewFromInt(100).Equal(snap.NextValue))
	require.Equal(t, 1, n.SubscriberCount(auction.AuctionID))

	bid, err := service.PlaceBid(ctx, auction.AuctionID, "user1", "Ana", nil)
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		require.Equal(t, model.EventBidAccepted, ev.Type)
		require.Equal(t, bid.BidID, ev.Bid.BidID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}
