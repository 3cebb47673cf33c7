// Package model defines the data models for Kai Bot.
package model

import "time"

// User represents a Telegram user account holding a smile balance.
type User struct {
	TelegramID     int64     `db:"telegram_id"`
	Username       string    `db:"username"`
	Balance        int64     `db:"balance"`
	LastDailyClaim int64     `db:"last_daily_claim"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Transaction represents a balance change record.
type Transaction struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Amount      int64     `db:"amount"`
	Type        string    `db:"type"`
	Description *string   `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeDaily         = "daily"          // Daily reward claim
	TxTypeAdminGive     = "admin_give"     // Admin granted smiles
	TxTypeAuctionBid    = "auction_bid"    // Bid escrow debit
	TxTypeAuctionRefund = "auction_refund" // Escrow refund (outbid, rebid or cancelled)
)

// Auction is the single live auction document. At most one exists
// system-wide; its presence in storage is what makes the auction RUNNING.
type Auction struct {
	Item          string    `db:"item"`
	Description   string    `db:"description"`
	MinimumBid    int64     `db:"minimum_bid"`
	HighestBid    int64     `db:"highest_bid"`
	HighestBidder *int64    `db:"highest_bidder"`
	EndTime       time.Time `db:"end_time"`
	ImageURL      string    `db:"image_url"`
	BannerURL     string    `db:"banner_url"`
	ChatID        int64     `db:"chat_id"`
	MessageID     int       `db:"message_id"`
	ThreadID      int       `db:"thread_id"`

	// Cancelled marks an admin-cancelled auction for its final display
	// edit. Never persisted: the record is already deleted by then.
	Cancelled bool `db:"-"`
}

// Ended reports whether the auction has passed its end time.
func (a *Auction) Ended(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// Remaining returns the time left until the auction ends, never negative.
func (a *Auction) Remaining(now time.Time) time.Duration {
	r := a.EndTime.Sub(now)
	if r < 0 {
		return 0
	}
	return r
}

// WinRecord is a per-user, per-calendar-month auction win count.
type WinRecord struct {
	UserID int64  `db:"user_id"`
	Month  string `db:"month"`
	Wins   int    `db:"wins"`
}

// MonthKey returns the calendar-month bucket (UTC) used by the win tracker.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}
