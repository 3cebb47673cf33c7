package auction

import (
	"errors"
	"fmt"
	"time"
)

// Validation rejections. These are user-visible outcomes of a bad
// request, not system errors: no state is mutated when one is returned.
var (
	ErrNoAuction     = errors.New("no active auction right now")
	ErrAuctionExists = errors.New("an auction is already running")
	ErrWinCapReached = errors.New("monthly auction win limit reached")
)

// CooldownError rejects a bid placed before the per-user cooldown expired.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("please wait %.1f seconds before bidding again", e.Remaining.Seconds())
}

// BidTooLowError rejects a bid that does not strictly exceed the current
// highest bid.
type BidTooLowError struct {
	HighestBid int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("your bid must be higher than the current bid: %d", e.HighestBid)
}

// BelowMinimumError rejects a bid under the auction's minimum.
type BelowMinimumError struct {
	MinimumBid int64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("your bid must be at least the minimum bid: %d", e.MinimumBid)
}

// InsufficientBalanceError rejects a bid the user cannot afford. Balance
// is the user's effective balance: ledger balance plus their own escrow,
// which would be refunded as part of a replacing bid.
type InsufficientBalanceError struct {
	Balance int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("you don't have enough smiles! Your balance: %d", e.Balance)
}
