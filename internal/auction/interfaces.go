package auction

import (
	"context"

	"kai-bot/internal/model"
)

// Store is the durable home of the single auction document. The record's
// presence is the signal that an auction is running.
type Store interface {
	// Load returns the current auction and its escrow snapshot, or
	// (nil, nil, nil) when no auction is running.
	Load(ctx context.Context) (*model.Auction, map[int64]int64, error)

	// Create inserts the auction record. Returns false when an auction
	// already exists, so at most one can ever be running.
	Create(ctx context.Context, a *model.Auction, escrow map[int64]int64) (bool, error)

	// Save writes the auction record and escrow snapshot as a whole document.
	Save(ctx context.Context, a *model.Auction, escrow map[int64]int64) error

	// Delete removes the record, returning the system to the no-auction state.
	Delete(ctx context.Context) error
}

// Ledger is the balance store. Each call is atomic; the engine builds
// escrow bookkeeping on top of it.
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	UpdateBalance(ctx context.Context, userID int64, amount int64, txType string, description *string) (*model.User, error)
}

// WinTracker counts auction wins per user and calendar month.
type WinTracker interface {
	Count(ctx context.Context, userID int64, month string) (int, error)
	Increment(ctx context.Context, userID int64, month string) error

	// ResetAll clears every user's count for the month.
	ResetAll(ctx context.Context, month string) error

	// ResetUser clears one user's count, reporting whether anything
	// had been recorded.
	ResetUser(ctx context.Context, userID int64, month string) (bool, error)
}

// Notifier delivers auction output to the chat platform. Every call is
// best-effort from the engine's point of view: a delivery failure never
// rolls back the operation that triggered it.
type Notifier interface {
	// ShowAuction renders a fresh live auction message and returns its
	// message ID.
	ShowAuction(ctx context.Context, a *model.Auction) (int, error)

	// RefreshAuction re-renders the existing live message in place.
	RefreshAuction(ctx context.Context, a *model.Auction) error

	// PostToThread posts a notice to the auction's discussion thread.
	PostToThread(ctx context.Context, a *model.Auction, text string) error

	// DirectMessage sends a private message to a user.
	DirectMessage(ctx context.Context, userID int64, text string) error

	// Announce posts to the auction's origin channel.
	Announce(ctx context.Context, a *model.Auction, text string) error
}
