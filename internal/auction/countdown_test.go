package auction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kai-bot/internal/model"
)

// Ticks are driven directly through tick() so the tests control the
// clock instead of waiting on a real ticker.

func TestCountdownTickRefreshesDisplay(t *testing.T) {
	f := newEngineFixture(t)
	f.startAuction(t, 100, 2*time.Hour)
	f.notifier.refreshes = 0

	f.advance(30 * time.Second)
	done := f.engine.tick(context.Background())

	assert.False(t, done)
	assert.Equal(t, 1, f.notifier.refreshes)
	assert.Empty(t, f.notifier.announcements)
}

func TestCountdownWarningFiresOnce(t *testing.T) {
	f := newEngineFixture(t)
	f.startAuction(t, 100, 2*time.Hour)

	// Just outside the warning window: no warning
	f.advance(2*time.Hour - 31*time.Minute)
	assert.False(t, f.engine.tick(context.Background()))
	assert.Empty(t, f.notifier.announcements)

	// First tick inside the window fires exactly one warning
	f.advance(90 * time.Second)
	assert.False(t, f.engine.tick(context.Background()))
	require.Len(t, f.notifier.announcements, 1)
	assert.Contains(t, f.notifier.announcements[0], "ending soon")

	// Subsequent ticks stay silent
	f.advance(30 * time.Second)
	assert.False(t, f.engine.tick(context.Background()))
	f.advance(30 * time.Second)
	assert.False(t, f.engine.tick(context.Background()))
	assert.Len(t, f.notifier.announcements, 1)
}

func TestCountdownWarningSkippedDeepInWindow(t *testing.T) {
	f := newEngineFixture(t)

	// Simulates resuming a persisted auction with only a few minutes
	// left: the threshold crossing is long past, so no stale warning.
	f.store.auction = &model.Auction{
		Item:       "Golden Kai Plush",
		MinimumBid: 100,
		EndTime:    f.now.Add(5 * time.Minute),
		MessageID:  42,
	}
	f.store.escrow = map[int64]int64{}
	require.NoError(t, f.engine.Resume(context.Background()))

	assert.False(t, f.engine.tick(context.Background()))
	assert.Empty(t, f.notifier.announcements)
}

func TestCountdownExpirySettles(t *testing.T) {
	f := newEngineFixture(t)
	f.ledger.balances[1] = 500
	f.startAuction(t, 100, time.Hour)
	_, err := f.bid(t, 1, 150)
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	done := f.engine.tick(context.Background())

	assert.True(t, done)
	assert.Nil(t, f.store.auction)
	assert.Equal(t, 1, f.wins.counts[winKey(1, model.MonthKey(f.now))])
	// Winner pays: the escrow was not refunded
	assert.Equal(t, int64(350), f.ledger.balances[1])
}

func TestCountdownStopsWhenAuctionGone(t *testing.T) {
	f := newEngineFixture(t)
	f.startAuction(t, 100, time.Hour)
	require.NoError(t, f.engine.Cancel(context.Background()))

	// A straggling tick after cancellation is a clean no-op
	done := f.engine.tick(context.Background())
	assert.True(t, done)
}
