package repository

import (
	"auction-tracker/internal/biddingerrors"
	model "auction-tracker/internal/models"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgreSQL SQLSTATE codes the store translates into domain errors
const (
	uniqueViolation     pq.ErrorCode = "23505"
	foreignKeyViolation pq.ErrorCode = "23503"
)

const auctionColumns = `id, title, description, starting_price, duration_minutes,
	starts_at, ends_at, created_at, status, seller_id, winner_id, winning_value, image_ref`

const bidColumns = `id, auction_id, bidder_id, bidder_name, value, created_at`

// PostgresRepo implements AuctionDB on PostgreSQL
type PostgresRepo struct {
	db *sql.DB
}

// OpenPostgres opens a connection pool. sql.Open does not dial, so Ping is done here.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// RunMigrations applies every embedded migration. Already up-to-date is not an error.
func RunMigrations(databaseURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// NewPostgresRepo creates a PostgresRepo
func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (model.Auction, error) {
	var (
		a            model.Auction
		status       string
		winnerID     sql.NullString
		winningValue decimal.NullDecimal
	)
	err := row.Scan(
		&a.AuctionID, &a.Title, &a.Description, &a.StartingPrice, &a.DurationMinutes,
		&a.StartsAt, &a.EndsAt, &a.CreatedAt, &status, &a.SellerID, &winnerID, &winningValue, &a.ImageRef,
	)
	if err != nil {
		return model.Auction{}, err
	}

	parsed, ok := model.ParseAuctionStatus(status)
	if !ok {
		return model.Auction{}, fmt.Errorf("auction %s has unknown status %q", a.AuctionID, status)
	}
	a.Status = parsed
	if winnerID.Valid {
		a.WinnerID = &winnerID.String
	}
	if winningValue.Valid {
		a.WinningValue = &winningValue.Decimal
	}
	a.StartsAt = a.StartsAt.UTC()
	a.EndsAt = a.EndsAt.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func scanBid(row rowScanner) (model.Bid, error) {
	var b model.Bid
	if err := row.Scan(&b.BidID, &b.AuctionID, &b.BidderID, &b.BidderName, &b.Value, &b.CreatedAt); err != nil {
		return model.Bid{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}

// CreateAuction inserts a new auction row
func (r *PostgresRepo) CreateAuction(ctx context.Context, a model.Auction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auctions (`+auctionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.AuctionID, a.Title, a.Description, a.StartingPrice, a.DurationMinutes,
		a.StartsAt, a.EndsAt, a.CreatedAt, a.Status.String(), a.SellerID,
		a.WinnerID, nullDecimal(a.WinningValue), a.ImageRef,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create auction %s: %w - duplicate id", a.AuctionID, biddingerrors.ErrValidation)
		}
		return fmt.Errorf("create auction %s: %w", a.AuctionID, err)
	}
	return nil
}

// GetAuction fetches one auction by id
func (r *PostgresRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, auctionID)
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns auctions ordered by start time, optionally filtered by status
func (r *PostgresRepo) ListAuctions(ctx context.Context, filter AuctionFilter) ([]model.Auction, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, filter.Status.String())
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + auctionColumns + ` FROM auctions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY starts_at ASC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return r.queryAuctions(ctx, "list auctions", query, args...)
}

// ListDueAuctions returns auctions not yet closed whose start or finalization time has passed
func (r *PostgresRepo) ListDueAuctions(ctx context.Context, now time.Time) ([]model.Auction, error) {
	return r.queryAuctions(ctx, "list due auctions",
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE (status = 'scheduled' AND (starts_at <= $1 OR ends_at <= $1))
		    OR (status = 'open' AND ends_at <= $1)
		 ORDER BY ends_at ASC`,
		now,
	)
}

func (r *PostgresRepo) queryAuctions(ctx context.Context, op, query string, args ...any) ([]model.Auction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	auctions := []model.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return auctions, nil
}

// UpdateAuctionStatus is a conditional update on the current status, so a
// transition that was already written elsewhere reports false.
func (r *PostgresRepo) UpdateAuctionStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	if u.To <= u.From {
		return false, nil
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE auctions
		    SET status = $3,
		        winner_id = CASE WHEN $3 = 'closed' THEN $4 ELSE winner_id END,
		        winning_value = CASE WHEN $3 = 'closed' THEN $5 ELSE winning_value END
		  WHERE id = $1 AND status = $2`,
		u.AuctionID, u.From.String(), u.To.String(), u.WinnerID, nullDecimal(u.WinningValue),
	)
	if err != nil {
		return false, fmt.Errorf("update auction %s status: %w", u.AuctionID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update auction %s status: %w", u.AuctionID, err)
	}
	if n == 0 {
		if _, err := r.GetAuction(ctx, u.AuctionID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// AppendBid inserts a bid. A second bid with the same value on one auction
// violates the unique constraint and is reported as too low.
func (r *PostgresRepo) AppendBid(ctx context.Context, b model.Bid) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO bids (`+bidColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		b.BidID, b.AuctionID, b.BidderID, b.BidderName, b.Value, b.CreatedAt,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return fmt.Errorf("append bid for auction %s: %w", b.AuctionID, biddingerrors.ErrBidTooLow)
		case hasCode(err, foreignKeyViolation):
			return fmt.Errorf("append bid for auction %s: %w", b.AuctionID, biddingerrors.ErrAuctionNotFound)
		}
		return fmt.Errorf("append bid for auction %s: %w", b.AuctionID, err)
	}
	return nil
}

// ListBids returns the auction's bids, newest first
func (r *PostgresRepo) ListBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if _, err := r.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY created_at DESC, id DESC`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	bids := []model.Bid{}
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("list bids for auction %s: scan: %w", auctionID, err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetLeadingBid returns the highest bid; equal values go to the earliest bid, then the lowest id
func (r *PostgresRepo) GetLeadingBid(ctx context.Context, auctionID string) (model.Bid, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY value DESC, created_at ASC, id ASC LIMIT 1`,
		auctionID,
	)
	b, err := scanBid(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetAuction(ctx, auctionID); getErr != nil {
			return model.Bid{}, getErr
		}
		return model.Bid{}, fmt.Errorf("get leading bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, fmt.Errorf("get leading bid for auction %s: %w", auctionID, err)
	}
	return b, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func hasCode(err error, code pq.ErrorCode) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == code
}

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}
