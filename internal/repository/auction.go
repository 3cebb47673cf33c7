package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kai-bot/internal/model"
)

// AuctionRepository persists the single live auction document. The table
// is constrained to one row; the presence of that row is what marks an
// auction as running. The escrow snapshot is stored alongside the record
// so refund bookkeeping survives a restart mid-auction.
type AuctionRepository struct {
	pool *pgxpool.Pool
}

// NewAuctionRepository creates a new AuctionRepository instance.
func NewAuctionRepository(pool *pgxpool.Pool) *AuctionRepository {
	return &AuctionRepository{pool: pool}
}

const auctionColumns = `item, description, minimum_bid, highest_bid, highest_bidder,
		end_time, image_url, banner_url, chat_id, message_id, thread_id, escrow`

// Load returns the current auction and its escrow snapshot, or (nil, nil, nil)
// when no auction is running.
func (r *AuctionRepository) Load(ctx context.Context) (*model.Auction, map[int64]int64, error) {
	const query = `
		SELECT ` + auctionColumns + `
		FROM auction
		WHERE singleton
	`

	var (
		a         model.Auction
		escrowRaw []byte
	)
	err := r.pool.QueryRow(ctx, query).Scan(
		&a.Item,
		&a.Description,
		&a.MinimumBid,
		&a.HighestBid,
		&a.HighestBidder,
		&a.EndTime,
		&a.ImageURL,
		&a.BannerURL,
		&a.ChatID,
		&a.MessageID,
		&a.ThreadID,
		&escrowRaw,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to load auction: %w", err)
	}

	escrow := make(map[int64]int64)
	if len(escrowRaw) > 0 {
		if err := json.Unmarshal(escrowRaw, &escrow); err != nil {
			return nil, nil, fmt.Errorf("malformed escrow snapshot: %w", err)
		}
	}

	return &a, escrow, nil
}

// Create inserts the auction record. Returns false without error when an
// auction already exists, so only one can ever be running.
func (r *AuctionRepository) Create(ctx context.Context, a *model.Auction, escrow map[int64]int64) (bool, error) {
	escrowRaw, err := json.Marshal(escrow)
	if err != nil {
		return false, fmt.Errorf("failed to encode escrow: %w", err)
	}

	const query = `
		INSERT INTO auction (singleton, ` + auctionColumns + `, created_at, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (singleton) DO NOTHING
	`

	result, err := r.pool.Exec(ctx, query,
		a.Item, a.Description, a.MinimumBid, a.HighestBid, a.HighestBidder,
		a.EndTime, a.ImageURL, a.BannerURL, a.ChatID, a.MessageID, a.ThreadID,
		escrowRaw,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create auction: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// Save writes the auction record and escrow snapshot as a whole document.
func (r *AuctionRepository) Save(ctx context.Context, a *model.Auction, escrow map[int64]int64) error {
	escrowRaw, err := json.Marshal(escrow)
	if err != nil {
		return fmt.Errorf("failed to encode escrow: %w", err)
	}

	const query = `
		UPDATE auction
		SET item = $1, description = $2, minimum_bid = $3, highest_bid = $4,
		    highest_bidder = $5, end_time = $6, image_url = $7, banner_url = $8,
		    chat_id = $9, message_id = $10, thread_id = $11, escrow = $12,
		    updated_at = NOW()
		WHERE singleton
	`

	result, err := r.pool.Exec(ctx, query,
		a.Item, a.Description, a.MinimumBid, a.HighestBid, a.HighestBidder,
		a.EndTime, a.ImageURL, a.BannerURL, a.ChatID, a.MessageID, a.ThreadID,
		escrowRaw,
	)
	if err != nil {
		return fmt.Errorf("failed to save auction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("failed to save auction: no record present")
	}

	return nil
}

// Delete removes the auction record, transitioning the system back to
// the no-auction state. Deleting when no record exists is not an error.
func (r *AuctionRepository) Delete(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM auction WHERE singleton`); err != nil {
		return fmt.Errorf("failed to delete auction: %w", err)
	}
	return nil
}
