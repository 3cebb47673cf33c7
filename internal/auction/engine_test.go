package auction

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kai-bot/internal/model"
)

// ============================================================================
// In-memory fakes
// ============================================================================

type fakeStore struct {
	auction *model.Auction
	escrow  map[int64]int64
	saveErr error
	saves   int
}

func (s *fakeStore) Load(_ context.Context) (*model.Auction, map[int64]int64, error) {
	if s.auction == nil {
		return nil, nil, nil
	}
	a := *s.auction
	return &a, maps.Clone(s.escrow), nil
}

func (s *fakeStore) Create(_ context.Context, a *model.Auction, escrow map[int64]int64) (bool, error) {
	if s.auction != nil {
		return false, nil
	}
	cp := *a
	s.auction = &cp
	s.escrow = maps.Clone(escrow)
	return true, nil
}

func (s *fakeStore) Save(_ context.Context, a *model.Auction, escrow map[int64]int64) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *a
	s.auction = &cp
	s.escrow = maps.Clone(escrow)
	s.saves++
	return nil
}

func (s *fakeStore) Delete(_ context.Context) error {
	s.auction = nil
	s.escrow = nil
	return nil
}

type ledgerMove struct {
	userID int64
	amount int64
	txType string
}

type fakeLedger struct {
	balances map[int64]int64
	moves    []ledgerMove
}

func (l *fakeLedger) GetBalance(_ context.Context, userID int64) (int64, error) {
	return l.balances[userID], nil
}

func (l *fakeLedger) UpdateBalance(_ context.Context, userID int64, amount int64, txType string, _ *string) (*model.User, error) {
	l.balances[userID] += amount
	l.moves = append(l.moves, ledgerMove{userID: userID, amount: amount, txType: txType})
	return &model.User{TelegramID: userID, Balance: l.balances[userID]}, nil
}

type fakeWins struct {
	counts map[string]int
}

func winKey(userID int64, month string) string {
	return fmt.Sprintf("%d|%s", userID, month)
}

func (w *fakeWins) Count(_ context.Context, userID int64, month string) (int, error) {
	return w.counts[winKey(userID, month)], nil
}

func (w *fakeWins) Increment(_ context.Context, userID int64, month string) error {
	w.counts[winKey(userID, month)]++
	return nil
}

func (w *fakeWins) ResetAll(_ context.Context, month string) error {
	for k := range w.counts {
		if k[len(k)-len(month):] == month {
			delete(w.counts, k)
		}
	}
	return nil
}

func (w *fakeWins) ResetUser(_ context.Context, userID int64, month string) (bool, error) {
	k := winKey(userID, month)
	if _, ok := w.counts[k]; !ok {
		return false, nil
	}
	delete(w.counts, k)
	return true, nil
}

type fakeNotifier struct {
	nextMessageID int
	shows         int
	refreshes     int
	lastRefreshed *model.Auction
	threadPosts   []string
	dms           map[int64][]string
	announcements []string
	showErr       error
	refreshErr    error
	dmErr         error
}

func (n *fakeNotifier) ShowAuction(_ context.Context, _ *model.Auction) (int, error) {
	if n.showErr != nil {
		return 0, n.showErr
	}
	n.shows++
	n.nextMessageID++
	return n.nextMessageID, nil
}

func (n *fakeNotifier) RefreshAuction(_ context.Context, a *model.Auction) error {
	if n.refreshErr != nil {
		return n.refreshErr
	}
	n.refreshes++
	cp := *a
	n.lastRefreshed = &cp
	return nil
}

func (n *fakeNotifier) PostToThread(_ context.Context, _ *model.Auction, text string) error {
	n.threadPosts = append(n.threadPosts, text)
	return nil
}

func (n *fakeNotifier) DirectMessage(_ context.Context, userID int64, text string) error {
	if n.dmErr != nil {
		return n.dmErr
	}
	if n.dms == nil {
		n.dms = make(map[int64][]string)
	}
	n.dms[userID] = append(n.dms[userID], text)
	return nil
}

func (n *fakeNotifier) Announce(_ context.Context, _ *model.Auction, text string) error {
	n.announcements = append(n.announcements, text)
	return nil
}

// ============================================================================
// Fixture
// ============================================================================

type engineFixture struct {
	engine   *Engine
	store    *fakeStore
	ledger   *fakeLedger
	wins     *fakeWins
	notifier *fakeNotifier
	now      time.Time
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		store:    &fakeStore{},
		ledger:   &fakeLedger{balances: make(map[int64]int64)},
		wins:     &fakeWins{counts: make(map[string]int)},
		notifier: &fakeNotifier{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(Config{
		BidCooldown:   30 * time.Second,
		TickInterval:  30 * time.Second,
		WarningWindow: 30 * time.Minute,
		MonthlyWinCap: 4,
	}, f.store, f.ledger, f.wins, f.notifier)
	f.engine.now = func() time.Time { return f.now }
	t.Cleanup(f.engine.Stop)
	return f
}

func (f *engineFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *engineFixture) startAuction(t *testing.T, minBid int64, duration time.Duration) *model.Auction {
	t.Helper()
	a, err := f.engine.Start(context.Background(), StartParams{
		Item:       "Golden Kai Plush",
		MinimumBid: minBid,
		Duration:   duration,
		ChatID:     -100500,
	})
	require.NoError(t, err)
	return a
}

// bid places a bid after advancing past the cooldown, so multi-bid
// scenarios don't trip over it.
func (f *engineFixture) bid(t *testing.T, userID, amount int64) (*model.Auction, error) {
	t.Helper()
	f.advance(31 * time.Second)
	return f.engine.PlaceBid(context.Background(), userID, amount)
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestEngineStart(t *testing.T) {
	f := newEngineFixture(t)

	a := f.startAuction(t, 100, time.Hour)

	assert.Equal(t, "Golden Kai Plush", a.Item)
	assert.Equal(t, int64(100), a.MinimumBid)
	assert.Equal(t, int64(0), a.HighestBid)
	assert.Nil(t, a.HighestBidder)
	assert.Equal(t, f.now.Add(time.Hour), a.EndTime)
	assert.Equal(t, 1, a.MessageID)
	assert.Equal(t, a.MessageID, a.ThreadID)
	require.NotNil(t, f.store.auction)
	assert.Equal(t, 1, f.store.auction.MessageID)
}

func TestEngineStartRejectsSecondAuction(t *testing.T) {
	f := newEngineFixture(t)

	f.startAuction(t, 100, time.Hour)
	_, err := f.engine.Start(context.Background(), StartParams{
		Item: "Another Item", MinimumBid: 50, Duration: time.Hour,
	})
	assert.ErrorIs(t, err, ErrAuctionExists)
}

func TestEngineStartValidatesParams(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, StartParams{Item: "  ", MinimumBid: 100, Duration: time.Hour})
	assert.Error(t, err)

	_, err = f.engine.Start(ctx, StartParams{Item: "Plush", MinimumBid: 100, Duration: 0})
	assert.Error(t, err)

	_, err = f.engine.Start(ctx, StartParams{Item: "Plush", MinimumBid: -1, Duration: time.Hour})
	assert.Error(t, err)

	// Nothing was reserved by the failed attempts
	assert.Nil(t, f.store.auction)
}

func TestEngineStartDisplayFailureReleasesSlot(t *testing.T) {
	f := newEngineFixture(t)
	f.notifier.showErr = errors.New("telegram down")

	_, err := f.engine.Start(context.Background(), StartParams{
		Item: "Plush", MinimumBid: 100, Duration: time.Hour,
	})
	require.Error(t, err)
	assert.Nil(t, f.store.auction)

	// Slot is free again once the display works
	f.notifier.showErr = nil
	f.startAuction(t, 100, time.Hour)
}

// ============================================================================
// Bidding
// ============================================================================

func TestEngineBidEscrowChain(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500 // user A
	f.ledger.balances[2] = 500 // user B
	f.startAuction(t, 100, time.Hour)

	// A bids 150: debited into escrow
	a, err := f.bid(t, 1, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(150), a.HighestBid)
	require.NotNil(t, a.HighestBidder)
	assert.Equal(t, int64(1), *a.HighestBidder)
	assert.Equal(t, int64(350), f.ledger.balances[1])

	// B bids 120: not above highest, rejected, nothing moves
	_, err = f.bid(t, 2, 120)
	var tooLow *BidTooLowError
	require.ErrorAs(t, err, &tooLow)
	assert.Equal(t, int64(150), tooLow.HighestBid)
	assert.Equal(t, int64(500), f.ledger.balances[2])

	// B bids 200: B debited, A refunded in full
	a, err = f.bid(t, 2, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), a.HighestBid)
	assert.Equal(t, int64(2), *a.HighestBidder)
	assert.Equal(t, int64(500), f.ledger.balances[1])
	assert.Equal(t, int64(300), f.ledger.balances[2])

	// Only B's escrow remains, and it matches the persisted snapshot
	assert.Equal(t, map[int64]int64{2: 200}, f.engine.escrow)
	assert.Equal(t, map[int64]int64{2: 200}, f.store.escrow)

	// A got an outbid DM
	require.Len(t, f.notifier.dms[1], 1)
}

func TestEngineBidSameUserRaise(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500
	f.startAuction(t, 100, time.Hour)

	_, err := f.bid(t, 1, 150)
	require.NoError(t, err)
	_, err = f.bid(t, 1, 200)
	require.NoError(t, err)

	// Old escrow refunded before the new debit: net holdback is 200
	assert.Equal(t, int64(300), f.ledger.balances[1])
	assert.Equal(t, map[int64]int64{1: 200}, f.engine.escrow)

	// No outbid DM for outbidding yourself
	assert.Empty(t, f.notifier.dms[1])
}

func TestEngineBidEffectiveBalance(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 200
	f.startAuction(t, 100, time.Hour)

	_, err := f.bid(t, 1, 180)
	require.NoError(t, err)
	assert.Equal(t, int64(20), f.ledger.balances[1])

	// Raising to 200 is affordable: 20 on ledger + 180 in own escrow
	_, err = f.bid(t, 1, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.ledger.balances[1])

	// 201 is not
	_, err = f.bid(t, 1, 201)
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(200), insufficient.Balance)
}

func TestEngineBidBelowMinimum(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500
	f.startAuction(t, 100, time.Hour)

	_, err := f.bid(t, 1, 50)
	var belowMin *BelowMinimumError
	require.ErrorAs(t, err, &belowMin)
	assert.Equal(t, int64(100), belowMin.MinimumBid)
	assert.Equal(t, int64(500), f.ledger.balances[1])
	assert.Empty(t, f.engine.escrow)
}

func TestEngineBidCooldown(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 1000
	f.startAuction(t, 100, time.Hour)

	_, err := f.bid(t, 1, 150)
	require.NoError(t, err)

	// 10s later: still cooling down
	f.advance(10 * time.Second)
	_, err = f.engine.PlaceBid(context.Background(), 1, 200)
	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.InDelta(t, 20, cooldown.Remaining.Seconds(), 0.5)

	// Past the cooldown it goes through
	f.advance(21 * time.Second)
	_, err = f.engine.PlaceBid(context.Background(), 1, 200)
	require.NoError(t, err)
}

func TestEngineBidRejectionDoesNotArmCooldown(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500
	f.startAuction(t, 100, time.Hour)

	// Rejected bid (below minimum) must not start the cooldown clock
	_, err := f.bid(t, 1, 50)
	require.Error(t, err)

	f.advance(time.Second)
	_, err = f.engine.PlaceBid(context.Background(), 1, 150)
	require.NoError(t, err)
}

func TestEngineBidWinCap(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 1000
	f.wins.counts[winKey(1, model.MonthKey(f.now))] = 4
	f.startAuction(t, 100, time.Hour)

	_, err := f.bid(t, 1, 150)
	assert.ErrorIs(t, err, ErrWinCapReached)

	// Next calendar month the cap resets on its own
	f.advance(31 * 24 * time.Hour)
	f.store.auction.EndTime = f.now.Add(time.Hour)
	_, err = f.engine.PlaceBid(context.Background(), 1, 150)
	require.NoError(t, err)
}

func TestEngineBidNoAuction(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500

	_, err := f.engine.PlaceBid(context.Background(), 1, 150)
	assert.ErrorIs(t, err, ErrNoAuction)
}

func TestEngineBidPersistFailureRollsBack(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500
	f.ledger.balances[2] = 500
	f.startAuction(t, 100, time.Hour)

	_, err := f.bid(t, 1, 150)
	require.NoError(t, err)

	f.store.saveErr = errors.New("connection reset")
	_, err = f.bid(t, 2, 200)
	require.Error(t, err)

	// Every ledger move of the failed bid was reversed
	assert.Equal(t, int64(350), f.ledger.balances[1])
	assert.Equal(t, int64(500), f.ledger.balances[2])
	// Escrow and the persisted record still describe A's bid
	assert.Equal(t, map[int64]int64{1: 150}, f.engine.escrow)
	assert.Equal(t, int64(150), f.store.auction.HighestBid)
	assert.Equal(t, int64(1), *f.store.auction.HighestBidder)

	// A fully rolled-back bid leaves no trace in the bidder set
	_, stats, serr := f.engine.Status(context.Background())
	require.NoError(t, serr)
	assert.Equal(t, 1, stats.Bidders)

	// And the failed bidder is not stuck behind a cooldown
	f.store.saveErr = nil
	f.advance(time.Second)
	_, err = f.engine.PlaceBid(context.Background(), 2, 200)
	require.NoError(t, err)
}

// ============================================================================
// Settlement
// ============================================================================

func TestEngineEndWithWinner(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500
	f.ledger.balances[2] = 500
	f.startAuction(t, 100, time.Hour)
	_, err := f.bid(t, 1, 150)
	require.NoError(t, err)
	_, err = f.bid(t, 2, 200)
	require.NoError(t, err)

	res, err := f.engine.End(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.WinnerID)
	assert.Equal(t, int64(2), *res.WinnerID)
	assert.Equal(t, int64(200), res.Amount)

	// Winner's escrow is kept as payment, loser was already refunded
	assert.Equal(t, int64(500), f.ledger.balances[1])
	assert.Equal(t, int64(300), f.ledger.balances[2])
	assert.Empty(t, f.engine.escrow)

	// Win recorded for the current month, record deleted
	assert.Equal(t, 1, f.wins.counts[winKey(2, model.MonthKey(f.now))])
	assert.Nil(t, f.store.auction)

	// A normal expiry does not carry the cancelled marker
	require.NotNil(t, f.notifier.lastRefreshed)
	assert.False(t, f.notifier.lastRefreshed.Cancelled)

	// Result announced
	require.NotEmpty(t, f.notifier.announcements)
}

func TestEngineEndWithNoBids(t *testing.T) {
	f := newEngineFixture(t)
	f.startAuction(t, 100, time.Hour)

	res, err := f.engine.End(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res.WinnerID)
	assert.Nil(t, f.store.auction)
	assert.Empty(t, f.wins.counts)
}

func TestEngineEndNoAuction(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.End(context.Background())
	assert.ErrorIs(t, err, ErrNoAuction)
}

func TestEngineCancelRefundsEveryone(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500
	f.ledger.balances[2] = 500
	f.startAuction(t, 100, time.Hour)
	_, err := f.bid(t, 1, 150)
	require.NoError(t, err)
	_, err = f.bid(t, 2, 200)
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(context.Background()))

	// Both users whole again, including the leader
	assert.Equal(t, int64(500), f.ledger.balances[1])
	assert.Equal(t, int64(500), f.ledger.balances[2])
	assert.Empty(t, f.engine.escrow)
	assert.Nil(t, f.store.auction)
	assert.Empty(t, f.wins.counts)

	// Final display edit is marked cancelled, not merely ended
	require.NotNil(t, f.notifier.lastRefreshed)
	assert.True(t, f.notifier.lastRefreshed.Cancelled)
}

// ============================================================================
// Update / Status / Resume
// ============================================================================

func TestEngineUpdate(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500
	f.startAuction(t, 100, time.Hour)
	_, err := f.bid(t, 1, 150)
	require.NoError(t, err)

	item := "Silver Kai Plush"
	minBid := int64(200)
	a, err := f.engine.Update(context.Background(), UpdateParams{Item: &item, MinimumBid: &minBid})
	require.NoError(t, err)
	assert.Equal(t, "Silver Kai Plush", a.Item)
	assert.Equal(t, int64(200), a.MinimumBid)

	// Bid state untouched by the edit
	assert.Equal(t, int64(150), a.HighestBid)
	assert.Equal(t, int64(1), *a.HighestBidder)
	assert.Equal(t, "Silver Kai Plush", f.store.auction.Item)
}

func TestEngineStatusIsReadOnly(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500
	f.ledger.balances[2] = 500
	f.startAuction(t, 100, time.Hour)
	_, err := f.bid(t, 1, 150)
	require.NoError(t, err)
	_, err = f.bid(t, 2, 200)
	require.NoError(t, err)

	for range 3 {
		a, stats, err := f.engine.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(200), a.HighestBid)
		assert.Equal(t, 2, stats.Bidders)
		assert.Equal(t, int64(200), stats.PendingEscrow)
	}
	// Repeated status calls moved nothing
	assert.Equal(t, int64(500), f.ledger.balances[1])
	assert.Equal(t, int64(300), f.ledger.balances[2])
}

func TestEngineResumeRestoresEscrow(t *testing.T) {
	f := newEngineFixture(t)

	// A persisted auction left behind by a previous process
	bidder := int64(7)
	f.store.auction = &model.Auction{
		Item:          "Golden Kai Plush",
		MinimumBid:    100,
		HighestBid:    250,
		HighestBidder: &bidder,
		EndTime:       f.now.Add(time.Hour),
		MessageID:     42,
		ThreadID:      42,
	}
	f.store.escrow = map[int64]int64{7: 250}
	f.ledger.balances[7] = 0

	require.NoError(t, f.engine.Resume(context.Background()))
	assert.Equal(t, map[int64]int64{7: 250}, f.engine.escrow)

	// Cancelling after resume refunds out of the restored snapshot
	require.NoError(t, f.engine.Cancel(context.Background()))
	assert.Equal(t, int64(250), f.ledger.balances[7])
}

func TestEngineResumeNoAuction(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.engine.Resume(context.Background()))
	assert.Equal(t, 0, f.notifier.shows)
}

func TestEngineResumeRerendersLostMessage(t *testing.T) {
	f := newEngineFixture(t)
	f.store.auction = &model.Auction{
		Item:       "Golden Kai Plush",
		MinimumBid: 100,
		EndTime:    f.now.Add(time.Hour),
		MessageID:  42,
	}
	f.store.escrow = map[int64]int64{}

	f.notifier.refreshErr = errors.New("message to edit not found")
	require.NoError(t, f.engine.Resume(context.Background()))

	assert.Equal(t, 1, f.notifier.shows)
	assert.Equal(t, 1, f.store.auction.MessageID)
	assert.Equal(t, 1, f.store.auction.ThreadID)
}

// ============================================================================
// Win resets
// ============================================================================

func TestEngineResetWins(t *testing.T) {
	f := newEngineFixture(t)
	month := model.MonthKey(f.now)
	f.wins.counts[winKey(1, month)] = 3
	f.wins.counts[winKey(2, month)] = 1

	cleared, err := f.engine.ResetUserWins(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, cleared)
	assert.Zero(t, f.wins.counts[winKey(1, month)])
	assert.Equal(t, 1, f.wins.counts[winKey(2, month)])

	// Resetting a user with no wins reports false
	cleared, err = f.engine.ResetUserWins(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, cleared)

	require.NoError(t, f.engine.ResetAllWins(context.Background()))
	assert.Empty(t, f.wins.counts)
}
