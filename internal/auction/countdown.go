package auction

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"kai-bot/internal/model"
)

// startCountdownLocked launches the countdown loop for the current
// auction. Caller must hold e.mu. Any previous loop is cancelled first.
func (e *Engine) startCountdownLocked() {
	e.stopCountdownLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.loopCancel = cancel
	go e.runCountdown(ctx)
}

// stopCountdownLocked cancels the countdown loop without waiting for it.
// The loop checks the auction record on every tick, so a cancelled or
// settled auction makes a straggling tick a no-op.
func (e *Engine) stopCountdownLocked() {
	if e.loopCancel != nil {
		e.loopCancel()
		e.loopCancel = nil
	}
}

func (e *Engine) runCountdown(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := e.tick(ctx); done {
				return
			}
		}
	}
}

// tick performs one countdown step: refresh the display, broadcast the
// "ending soon" warning once when the remaining time enters the warning
// window, and settle when the end time has passed. Returns true when the
// loop should stop.
func (e *Engine) tick(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	a, _, err := e.store.Load(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Countdown failed to load auction")
		return false
	}
	if a == nil {
		// Cancelled or ended elsewhere.
		return true
	}

	now := e.now()
	remaining := a.Remaining(now)

	if remaining <= 0 {
		if _, err := e.settleLocked(ctx, a); err != nil {
			log.Error().Err(err).Msg("Auction settlement failed")
			return false
		}
		return true
	}

	// Fire the warning once, and only when the threshold was crossed
	// recently. The bound keeps a restart deep inside the window from
	// broadcasting a stale warning.
	if !e.warned &&
		remaining <= e.cfg.WarningWindow &&
		e.cfg.WarningWindow-remaining < 2*e.cfg.TickInterval {
		e.warned = true
		e.sendEndingSoonLocked(ctx, a, remaining)
	}

	if err := e.notifier.RefreshAuction(ctx, a); err != nil {
		log.Debug().Err(err).Msg("Countdown failed to refresh display")
	}

	return false
}

// sendEndingSoonLocked warns every bidder that the auction is about to
// end: DM preferred, thread mention as fallback, plus one channel-wide
// notice. Caller must hold e.mu.
func (e *Engine) sendEndingSoonLocked(ctx context.Context, a *model.Auction, remaining time.Duration) {
	minutes := int(remaining.Round(time.Minute) / time.Minute)
	text := formatEndingSoon(a.Item, minutes)

	for uid := range e.bidders {
		if err := e.notifier.DirectMessage(ctx, uid, text); err != nil {
			if terr := e.notifier.PostToThread(ctx, a, Mention(uid)+" "+text); terr != nil {
				log.Debug().Err(terr).Int64("user_id", uid).Msg("Failed to deliver ending-soon warning")
			}
		}
	}

	if err := e.notifier.Announce(ctx, a, text); err != nil {
		log.Warn().Err(err).Msg("Failed to announce ending-soon warning")
	}
}

// Stop halts the countdown loop without touching auction state. Used
// during shutdown; the persisted record and escrow snapshot allow
// Resume to pick the auction back up.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCountdownLocked()
}
