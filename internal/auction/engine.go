// Package auction implements the live auction engine: bid validation,
// escrow bookkeeping, the countdown loop and end-of-auction settlement.
//
// All mutations of the auction record and the escrow map are serialized
// through a single mutex, so concurrent bids, admin actions and countdown
// ticks cannot interleave their validate-then-mutate sequences.
package auction

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"kai-bot/internal/model"
)

// Config holds auction engine tunables.
type Config struct {
	BidCooldown   time.Duration // minimum interval between bids by the same user
	TickInterval  time.Duration // countdown poll period
	WarningWindow time.Duration // "ending soon" broadcast threshold
	MonthlyWinCap int           // max auctions one user may win per calendar month
}

func (c Config) withDefaults() Config {
	if c.BidCooldown <= 0 {
		c.BidCooldown = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.WarningWindow <= 0 {
		c.WarningWindow = 30 * time.Minute
	}
	if c.MonthlyWinCap <= 0 {
		c.MonthlyWinCap = 4
	}
	return c
}

// Engine owns the single live auction. Escrow, the bidder set and bid
// cooldowns are engine state rather than globals; escrow is additionally
// snapshotted into the auction record on every save so it survives a
// restart mid-auction.
type Engine struct {
	cfg      Config
	store    Store
	ledger   Ledger
	wins     WinTracker
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	escrow  map[int64]int64     // user -> amount debited for their live bid
	bidders map[int64]struct{}  // everyone who has bid in the running auction
	lastBid map[int64]time.Time // per-user bid cooldown, survives across auctions
	warned  bool                // "ending soon" broadcast already sent

	loopCancel context.CancelFunc
}

// NewEngine creates an auction engine.
func NewEngine(cfg Config, store Store, ledger Ledger, wins WinTracker, notifier Notifier) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		store:    store,
		ledger:   ledger,
		wins:     wins,
		notifier: notifier,
		now:      time.Now,
		escrow:   make(map[int64]int64),
		bidders:  make(map[int64]struct{}),
		lastBid:  make(map[int64]time.Time),
	}
}

// StartParams describes a new auction.
type StartParams struct {
	Item        string
	Description string
	MinimumBid  int64
	Duration    time.Duration
	ImageURL    string
	BannerURL   string
	ChatID      int64
}

// Result summarizes a settled auction.
type Result struct {
	Item     string
	WinnerID *int64
	Amount   int64
}

// Stats is the admin view of in-flight bookkeeping.
type Stats struct {
	Bidders       int
	PendingEscrow int64
}

// Start creates a new auction and launches its countdown loop.
// Fails with ErrAuctionExists when one is already running.
func (e *Engine) Start(ctx context.Context, p StartParams) (*model.Auction, error) {
	if strings.TrimSpace(p.Item) == "" {
		return nil, fmt.Errorf("auction item must not be empty")
	}
	if p.Duration <= 0 {
		return nil, fmt.Errorf("auction duration must be positive")
	}
	if p.MinimumBid < 0 {
		return nil, fmt.Errorf("minimum bid must not be negative")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	a := &model.Auction{
		Item:        p.Item,
		Description: p.Description,
		MinimumBid:  p.MinimumBid,
		EndTime:     now.Add(p.Duration).UTC(),
		ImageURL:    p.ImageURL,
		BannerURL:   p.BannerURL,
		ChatID:      p.ChatID,
	}

	// Reserve the singleton record first so two concurrent starts cannot
	// both win.
	created, err := e.store.Create(ctx, a, map[int64]int64{})
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, ErrAuctionExists
	}

	messageID, err := e.notifier.ShowAuction(ctx, a)
	if err != nil {
		if derr := e.store.Delete(ctx); derr != nil {
			log.Error().Err(derr).Msg("Failed to remove auction record after display failure")
		}
		return nil, fmt.Errorf("failed to post auction display: %w", err)
	}
	a.MessageID = messageID
	a.ThreadID = messageID
	if err := e.store.Save(ctx, a, map[int64]int64{}); err != nil {
		if derr := e.store.Delete(ctx); derr != nil {
			log.Error().Err(derr).Msg("Failed to remove auction record after persist failure")
		}
		return nil, err
	}

	e.escrow = make(map[int64]int64)
	e.bidders = make(map[int64]struct{})
	e.warned = false
	e.startCountdownLocked()

	log.Info().
		Str("item", a.Item).
		Int64("minimum_bid", a.MinimumBid).
		Time("end_time", a.EndTime).
		Msg("Auction started")

	return a, nil
}

// Resume re-attaches to a persisted auction after a restart: reloads the
// escrow snapshot, re-renders the display if the original message is
// gone, and restarts the countdown. A no-op when no auction is running.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, escrow, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	if a == nil {
		return nil
	}

	e.escrow = escrow
	if e.escrow == nil {
		e.escrow = make(map[int64]int64)
	}

	if err := e.notifier.RefreshAuction(ctx, a); err != nil {
		// Original live message is gone; render a fresh one and persist
		// its identity.
		messageID, serr := e.notifier.ShowAuction(ctx, a)
		if serr != nil {
			return fmt.Errorf("failed to re-attach auction display: %w", serr)
		}
		a.MessageID = messageID
		a.ThreadID = messageID
		if serr := e.store.Save(ctx, a, e.escrow); serr != nil {
			return serr
		}
	}

	e.startCountdownLocked()

	log.Info().
		Str("item", a.Item).
		Time("end_time", a.EndTime).
		Int("escrow_entries", len(e.escrow)).
		Msg("Resumed active auction")

	return nil
}

// PlaceBid validates and applies a bid for the running auction.
//
// Preconditions are checked in a fixed order and the first failure
// returns a rejection with nothing mutated: cooldown, auction exists,
// win cap, strictly above highest, at least the minimum, affordable
// against the user's effective balance. On success the user's previous
// escrow (if any) is refunded, the new amount is debited into escrow,
// the outbid leader is refunded, and the record is persisted before any
// notification goes out. A persistence failure rolls the ledger and
// escrow mutations back and rejects the bid.
func (e *Engine) PlaceBid(ctx context.Context, userID int64, amount int64) (*model.Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if last, ok := e.lastBid[userID]; ok {
		if wait := e.cfg.BidCooldown - now.Sub(last); wait > 0 {
			return nil, &CooldownError{Remaining: wait}
		}
	}

	a, _, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNoAuction
	}

	wins, err := e.wins.Count(ctx, userID, model.MonthKey(now))
	if err != nil {
		return nil, err
	}
	if wins >= e.cfg.MonthlyWinCap {
		return nil, ErrWinCapReached
	}

	if amount <= a.HighestBid {
		return nil, &BidTooLowError{HighestBid: a.HighestBid}
	}
	if amount < a.MinimumBid {
		return nil, &BelowMinimumError{MinimumBid: a.MinimumBid}
	}

	balance, err := e.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	effective := balance + e.escrow[userID]
	if effective < amount {
		return nil, &InsufficientBalanceError{Balance: effective}
	}

	// Ledger moves applied so far, reversed if persistence fails.
	type move struct {
		user  int64
		delta int64
	}
	var applied []move
	apply := func(user, delta int64, txType, desc string) error {
		if _, err := e.ledger.UpdateBalance(ctx, user, delta, txType, &desc); err != nil {
			return err
		}
		applied = append(applied, move{user: user, delta: delta})
		return nil
	}
	prevEscrow := maps.Clone(e.escrow)
	prevBid, prevBidder := a.HighestBid, a.HighestBidder
	rollback := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			m := applied[i]
			desc := "bid rollback"
			if _, rerr := e.ledger.UpdateBalance(ctx, m.user, -m.delta, model.TxTypeAuctionRefund, &desc); rerr != nil {
				log.Error().Err(rerr).Int64("user_id", m.user).Int64("amount", m.delta).
					Msg("Failed to reverse ledger move while rolling back bid")
			}
		}
		e.escrow = prevEscrow
		a.HighestBid, a.HighestBidder = prevBid, prevBidder
	}

	// Same-user re-bid: refund the old escrow first so the new amount is
	// the user's only live commitment.
	if own := e.escrow[userID]; own > 0 {
		if err := apply(userID, own, model.TxTypeAuctionRefund, fmt.Sprintf("bid replaced on %s", a.Item)); err != nil {
			rollback()
			return nil, fmt.Errorf("failed to refund previous bid: %w", err)
		}
		delete(e.escrow, userID)
	}

	if err := apply(userID, -amount, model.TxTypeAuctionBid, fmt.Sprintf("bid on %s", a.Item)); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to debit bid: %w", err)
	}
	e.escrow[userID] = amount

	// Captured before the record is overwritten; a genuine outbid is
	// always a different user, since a same-user re-bid was reconciled
	// above.
	var outbid *int64
	if prevBidder != nil && *prevBidder != userID {
		outbid = prevBidder
		if refund := e.escrow[*outbid]; refund > 0 {
			if err := apply(*outbid, refund, model.TxTypeAuctionRefund, fmt.Sprintf("outbid on %s", a.Item)); err != nil {
				rollback()
				return nil, fmt.Errorf("failed to refund outbid user: %w", err)
			}
			delete(e.escrow, *outbid)
		}
	}

	uid := userID
	a.HighestBid = amount
	a.HighestBidder = &uid
	if err := e.store.Save(ctx, a, e.escrow); err != nil {
		rollback()
		return nil, fmt.Errorf("failed to persist bid: %w", err)
	}
	e.bidders[userID] = struct{}{}

	if outbid != nil {
		if err := e.notifier.DirectMessage(ctx, *outbid, formatOutbidDM(userID, amount, a.Item)); err != nil {
			log.Warn().Err(err).Int64("user_id", *outbid).Msg("Failed to DM outbid notification")
		}
		if err := e.notifier.PostToThread(ctx, a, formatThreadOutbid(*outbid, userID)); err != nil {
			log.Debug().Err(err).Msg("Failed to post outbid thread notice")
		}
	}
	if err := e.notifier.PostToThread(ctx, a, formatThreadBid(userID, amount)); err != nil {
		log.Debug().Err(err).Msg("Failed to post bid thread notice")
	}
	if err := e.notifier.RefreshAuction(ctx, a); err != nil {
		log.Debug().Err(err).Msg("Failed to refresh auction display")
	}

	e.lastBid[userID] = now

	log.Info().
		Int64("user_id", userID).
		Int64("amount", amount).
		Str("item", a.Item).
		Msg("Bid accepted")

	return a, nil
}

// End ends the running auction immediately and settles it.
func (e *Engine) End(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, _, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNoAuction
	}

	a.EndTime = e.now().UTC()
	return e.settleLocked(ctx, a)
}

// Cancel aborts the running auction: every outstanding escrow entry is
// refunded unconditionally, including the current leader's - nobody wins.
func (e *Engine) Cancel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, _, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNoAuction
	}

	for uid, amt := range e.escrow {
		desc := fmt.Sprintf("auction cancelled: %s", a.Item)
		if _, err := e.ledger.UpdateBalance(ctx, uid, amt, model.TxTypeAuctionRefund, &desc); err != nil {
			log.Error().Err(err).Int64("user_id", uid).Int64("amount", amt).
				Msg("Failed to refund escrow on cancellation")
		}
	}
	e.escrow = make(map[int64]int64)
	e.bidders = make(map[int64]struct{})
	e.warned = false

	if err := e.store.Delete(ctx); err != nil {
		return err
	}

	a.EndTime = e.now().UTC()
	a.Cancelled = true
	if err := e.notifier.RefreshAuction(ctx, a); err != nil {
		log.Debug().Err(err).Msg("Failed to refresh display after cancellation")
	}
	if err := e.notifier.Announce(ctx, a, formatCancelled()); err != nil {
		log.Warn().Err(err).Msg("Failed to announce cancellation")
	}

	e.stopCountdownLocked()

	log.Info().Str("item", a.Item).Msg("Auction cancelled")
	return nil
}

// UpdateParams carries in-place edits; nil fields are left unchanged.
type UpdateParams struct {
	Item        *string
	Description *string
	MinimumBid  *int64
	ImageURL    *string
	BannerURL   *string
}

// Update edits the running auction in place and refreshes the display.
func (e *Engine) Update(ctx context.Context, p UpdateParams) (*model.Auction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, _, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNoAuction
	}

	if p.Item != nil {
		a.Item = *p.Item
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.MinimumBid != nil {
		a.MinimumBid = *p.MinimumBid
	}
	if p.ImageURL != nil {
		a.ImageURL = *p.ImageURL
	}
	if p.BannerURL != nil {
		a.BannerURL = *p.BannerURL
	}

	if err := e.store.Save(ctx, a, e.escrow); err != nil {
		return nil, err
	}

	if err := e.notifier.RefreshAuction(ctx, a); err != nil {
		log.Debug().Err(err).Msg("Failed to refresh display after update")
	}

	return a, nil
}

// Status returns the running auction and in-flight bookkeeping stats.
// It never mutates auction state.
func (e *Engine) Status(ctx context.Context) (*model.Auction, *Stats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, _, err := e.store.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	if a == nil {
		return nil, nil, ErrNoAuction
	}

	stats := &Stats{Bidders: len(e.bidders)}
	for _, amt := range e.escrow {
		stats.PendingEscrow += amt
	}
	return a, stats, nil
}

// ResetAllWins clears every user's win count for the current month.
func (e *Engine) ResetAllWins(ctx context.Context) error {
	return e.wins.ResetAll(ctx, model.MonthKey(e.now()))
}

// ResetUserWins clears one user's win count for the current month.
// Returns false if the user had no recorded wins.
func (e *Engine) ResetUserWins(ctx context.Context, userID int64) (bool, error) {
	return e.wins.ResetUser(ctx, userID, model.MonthKey(e.now()))
}

// settleLocked runs settlement for an auction whose end time has been
// reached (or forced). Caller must hold e.mu.
func (e *Engine) settleLocked(ctx context.Context, a *model.Auction) (*Result, error) {
	e.bidders = make(map[int64]struct{})
	e.warned = false

	res := &Result{Item: a.Item, WinnerID: a.HighestBidder, Amount: a.HighestBid}

	var announcement string
	if w := a.HighestBidder; w != nil {
		// The winner's escrow is the final payment: removed, not refunded.
		delete(e.escrow, *w)
		if err := e.wins.Increment(ctx, *w, model.MonthKey(e.now())); err != nil {
			log.Error().Err(err).Int64("user_id", *w).Msg("Failed to record auction win")
		}
		announcement = formatWon(a.Item, *w, a.HighestBid)
	} else {
		for uid, amt := range e.escrow {
			desc := fmt.Sprintf("auction ended with no winner: %s", a.Item)
			if _, err := e.ledger.UpdateBalance(ctx, uid, amt, model.TxTypeAuctionRefund, &desc); err != nil {
				log.Error().Err(err).Int64("user_id", uid).Int64("amount", amt).
					Msg("Failed to refund escrow at settlement")
			}
		}
		announcement = formatNoBids()
	}
	e.escrow = make(map[int64]int64)

	if err := e.notifier.RefreshAuction(ctx, a); err != nil {
		log.Debug().Err(err).Msg("Failed to render final auction display")
	}
	if err := e.notifier.Announce(ctx, a, announcement); err != nil {
		log.Warn().Err(err).Msg("Failed to announce auction result")
	}

	if err := e.store.Delete(ctx); err != nil {
		return nil, err
	}

	e.stopCountdownLocked()

	evt := log.Info().Str("item", a.Item)
	if res.WinnerID != nil {
		evt = evt.Int64("winner_id", *res.WinnerID).Int64("amount", res.Amount)
	}
	evt.Msg("Auction settled")

	return res, nil
}
