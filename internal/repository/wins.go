package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kai-bot/internal/model"
)

// WinRepository is the durable win tracker: auction wins counted per
// user and calendar month (YYYY-MM), so the monthly cap rolls over
// without an explicit reset.
type WinRepository struct {
	pool *pgxpool.Pool
}

// NewWinRepository creates a new WinRepository instance.
func NewWinRepository(pool *pgxpool.Pool) *WinRepository {
	return &WinRepository{pool: pool}
}

// Count returns the number of auctions a user has won in the given month.
func (r *WinRepository) Count(ctx context.Context, userID int64, month string) (int, error) {
	const query = `
		SELECT wins FROM auction_wins
		WHERE user_id = $1 AND month = $2
	`

	var wins int
	err := r.pool.QueryRow(ctx, query, userID, month).Scan(&wins)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// No row means no wins this month
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count wins: %w", err)
	}
	return wins, nil
}

// Increment adds one win for the user in the given month.
func (r *WinRepository) Increment(ctx context.Context, userID int64, month string) error {
	const query = `
		INSERT INTO auction_wins (user_id, month, wins)
		VALUES ($1, $2, 1)
		ON CONFLICT (user_id, month)
		DO UPDATE SET wins = auction_wins.wins + 1
	`
	if _, err := r.pool.Exec(ctx, query, userID, month); err != nil {
		return fmt.Errorf("failed to increment wins: %w", err)
	}
	return nil
}

// ResetAll clears win counts for every user in the given month.
func (r *WinRepository) ResetAll(ctx context.Context, month string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM auction_wins WHERE month = $1`, month); err != nil {
		return fmt.Errorf("failed to reset wins: %w", err)
	}
	return nil
}

// ResetUser clears a single user's win count for the given month.
// Returns false if the user had no recorded wins.
func (r *WinRepository) ResetUser(ctx context.Context, userID int64, month string) (bool, error) {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM auction_wins WHERE user_id = $1 AND month = $2`, userID, month)
	if err != nil {
		return false, fmt.Errorf("failed to reset user wins: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// GetMonth lists all win records for a month, highest first.
func (r *WinRepository) GetMonth(ctx context.Context, month string) ([]*model.WinRecord, error) {
	const query = `
		SELECT user_id, month, wins FROM auction_wins
		WHERE month = $1
		ORDER BY wins DESC
	`

	rows, err := r.pool.Query(ctx, query, month)
	if err != nil {
		return nil, fmt.Errorf("failed to get win records: %w", err)
	}
	defer rows.Close()

	var records []*model.WinRecord
	for rows.Next() {
		var rec model.WinRecord
		if err := rows.Scan(&rec.UserID, &rec.Month, &rec.Wins); err != nil {
			return nil, fmt.Errorf("failed to scan win record: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}
