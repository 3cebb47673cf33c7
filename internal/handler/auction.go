package handler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"kai-bot/internal/auction"
	"kai-bot/internal/service"
)

// AuctionHandler handles auction commands. Admin-only commands are
// gated by middleware at registration time; this handler assumes the
// caller is allowed.
type AuctionHandler struct {
	engine         *auction.Engine
	accountService *service.AccountService
}

// NewAuctionHandler creates a new AuctionHandler.
func NewAuctionHandler(engine *auction.Engine, accountService *service.AccountService) *AuctionHandler {
	return &AuctionHandler{
		engine:         engine,
		accountService: accountService,
	}
}

// durationPattern matches compact duration specs like "2d", "3h30m" or
// "1d12h", with days on top of time.ParseDuration's units.
var durationPattern = regexp.MustCompile(`^(?:(\d+)d)?((?:\d+[hms])*)$`)

// parseAuctionDuration parses a duration with day support.
func parseAuctionDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var d time.Duration
	if m[1] != "" {
		days, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		d = time.Duration(days) * 24 * time.Hour
	}
	if m[2] != "" {
		rest, err := time.ParseDuration(m[2])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		d += rest
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d, nil
}

// HandleStartAuction handles the /startauction command.
// Format: /startauction item | description | min_bid | duration [| image_url [| banner_url]]
func (h *AuctionHandler) HandleStartAuction(c tele.Context) error {
	ctx := context.Background()

	parts := strings.Split(c.Message().Payload, "|")
	if len(parts) < 4 {
		return c.Reply(
			"❌ Usage: /startauction item | description | min_bid | duration [| image_url [| banner_url]]\n" +
				"Example: /startauction Golden Kai Plush | Limited edition | 100 | 2d12h")
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	minBid, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || minBid < 0 {
		return c.Reply("❌ Minimum bid must be a non-negative integer.")
	}

	duration, err := parseAuctionDuration(parts[3])
	if err != nil {
		return c.Reply("❌ Duration must look like 2d, 12h, 90m or 1d6h30m.")
	}

	params := auction.StartParams{
		Item:        parts[0],
		Description: parts[1],
		MinimumBid:  minBid,
		Duration:    duration,
		ChatID:      c.Chat().ID,
	}
	if len(parts) > 4 {
		params.ImageURL = parts[4]
	}
	if len(parts) > 5 {
		params.BannerURL = parts[5]
	}

	a, err := h.engine.Start(ctx, params)
	if err != nil {
		if errors.Is(err, auction.ErrAuctionExists) {
			return c.Reply("❌ An auction is already running. End or cancel it first.")
		}
		return c.Reply(fmt.Sprintf("❌ Failed to start the auction: %v", err))
	}

	return c.Reply(fmt.Sprintf("✅ Auction started: %s (ends %s)",
		a.Item, a.EndTime.Format("2006-01-02 15:04 MST")))
}

// HandleBid handles the /bid command.
// Format: /bid <amount>
func (h *AuctionHandler) HandleBid(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /bid <amount>")
	}

	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || amount <= 0 {
		return c.Reply("❌ Your bid must be a positive integer.")
	}

	// Account must exist before the ledger can escrow anything
	if _, _, err := h.accountService.EnsureUser(ctx, sender.ID, senderName(sender)); err != nil {
		return c.Reply("❌ Something went wrong, please try again later.")
	}

	a, err := h.engine.PlaceBid(ctx, sender.ID, amount)
	if err != nil {
		return c.Reply(bidRejectionMessage(err))
	}

	return c.Reply(fmt.Sprintf("✅ Bid accepted! You're leading the %s auction at %d smiles.",
		a.Item, a.HighestBid))
}

// bidRejectionMessage maps engine rejections to user-facing replies.
func bidRejectionMessage(err error) string {
	var (
		cooldown     *auction.CooldownError
		tooLow       *auction.BidTooLowError
		belowMin     *auction.BelowMinimumError
		insufficient *auction.InsufficientBalanceError
	)
	switch {
	case errors.Is(err, auction.ErrNoAuction):
		return "❌ There's no auction running right now."
	case errors.Is(err, auction.ErrWinCapReached):
		return "❌ You've reached the monthly auction win limit. Try again next month!"
	case errors.As(err, &cooldown):
		return fmt.Sprintf("⏳ Please wait %.0f seconds before bidding again.", cooldown.Remaining.Seconds())
	case errors.As(err, &tooLow):
		return fmt.Sprintf("❌ Your bid must be higher than the current bid of %d smiles.", tooLow.HighestBid)
	case errors.As(err, &belowMin):
		return fmt.Sprintf("❌ Your bid must be at least the minimum bid of %d smiles.", belowMin.MinimumBid)
	case errors.As(err, &insufficient):
		return fmt.Sprintf("❌ You don't have enough smiles! Your balance: %d", insufficient.Balance)
	default:
		return "❌ Failed to place your bid, please try again later."
	}
}

// HandleBidButton handles taps on the live message's "Place Bid" button.
func (h *AuctionHandler) HandleBidButton(c tele.Context) error {
	if err := c.Respond(&tele.CallbackResponse{
		Text: "Type /bid <amount> to place your bid!",
	}); err != nil {
		return err
	}
	return nil
}

// HandleCancelAuction handles the /cancelauction command.
// Requires the explicit confirmation token: /cancelauction YES
func (h *AuctionHandler) HandleCancelAuction(c tele.Context) error {
	ctx := context.Background()

	if len(c.Args()) < 1 || c.Args()[0] != "YES" {
		return c.Reply("⚠️ This refunds every bid and kills the auction.\nConfirm with: /cancelauction YES")
	}

	if err := h.engine.Cancel(ctx); err != nil {
		if errors.Is(err, auction.ErrNoAuction) {
			return c.Reply("❌ There's no auction running right now.")
		}
		return c.Reply(fmt.Sprintf("❌ Failed to cancel the auction: %v", err))
	}

	return c.Reply("✅ Auction cancelled. All bids refunded.")
}

// HandleEndAuction handles the /endauction command.
// Requires the explicit confirmation token: /endauction YES
func (h *AuctionHandler) HandleEndAuction(c tele.Context) error {
	ctx := context.Background()

	if len(c.Args()) < 1 || c.Args()[0] != "YES" {
		return c.Reply("⚠️ This ends the auction immediately and settles it.\nConfirm with: /endauction YES")
	}

	res, err := h.engine.End(ctx)
	if err != nil {
		if errors.Is(err, auction.ErrNoAuction) {
			return c.Reply("❌ There's no auction running right now.")
		}
		return c.Reply(fmt.Sprintf("❌ Failed to end the auction: %v", err))
	}

	if res.WinnerID == nil {
		return c.Reply(fmt.Sprintf("✅ Auction for %s ended with no bids.", res.Item))
	}
	return c.Reply(fmt.Sprintf("✅ Auction for %s ended. Winning bid: %d smiles.", res.Item, res.Amount))
}

// HandleUpdateAuction handles the /updateauction command.
// Format: /updateauction <field> <value...> where field is one of
// item, description, minbid, image, banner.
func (h *AuctionHandler) HandleUpdateAuction(c tele.Context) error {
	ctx := context.Background()

	args := c.Args()
	if len(args) < 2 {
		return c.Reply("❌ Usage: /updateauction <item|description|minbid|image|banner> <value>")
	}

	field := strings.ToLower(args[0])
	value := strings.TrimSpace(strings.TrimPrefix(c.Message().Payload, args[0]))

	var params auction.UpdateParams
	switch field {
	case "item":
		params.Item = &value
	case "description":
		params.Description = &value
	case "minbid":
		minBid, err := strconv.ParseInt(value, 10, 64)
		if err != nil || minBid < 0 {
			return c.Reply("❌ Minimum bid must be a non-negative integer.")
		}
		params.MinimumBid = &minBid
	case "image":
		params.ImageURL = &value
	case "banner":
		params.BannerURL = &value
	default:
		return c.Reply("❌ Unknown field. Use item, description, minbid, image or banner.")
	}

	a, err := h.engine.Update(ctx, params)
	if err != nil {
		if errors.Is(err, auction.ErrNoAuction) {
			return c.Reply("❌ There's no auction running right now.")
		}
		return c.Reply(fmt.Sprintf("❌ Failed to update the auction: %v", err))
	}

	return c.Reply(fmt.Sprintf("✅ Auction updated: %s", a.Item))
}

// HandleAuctionStatus handles the /auctionstatus command.
func (h *AuctionHandler) HandleAuctionStatus(c tele.Context) error {
	ctx := context.Background()

	a, stats, err := h.engine.Status(ctx)
	if err != nil {
		if errors.Is(err, auction.ErrNoAuction) {
			return c.Reply("📭 No auction is running right now.")
		}
		return c.Reply("❌ Failed to fetch auction status.")
	}

	remaining := a.Remaining(time.Now())
	leader := "nobody yet"
	if a.HighestBidder != nil {
		leader = fmt.Sprintf("user %d at %d smiles", *a.HighestBidder, a.HighestBid)
	}

	return c.Reply(fmt.Sprintf(
		"📊 Auction status\n"+
			"━━━━━━━━━━━━━━━\n"+
			"🎁 Item: %s\n"+
			"💵 Minimum bid: %d\n"+
			"🏅 Leading: %s\n"+
			"👥 Bidders: %d\n"+
			"🔒 In escrow: %d smiles\n"+
			"⏳ Time left: %s\n"+
			"━━━━━━━━━━━━━━━",
		a.Item, a.MinimumBid, leader, stats.Bidders, stats.PendingEscrow,
		formatRemaining(remaining),
	))
}

// formatRemaining renders a duration as "1d 2h 3m".
func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "ended"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// HandleResetWins handles the /resetwins command.
// Format: /resetwins all | <user_id> | @username
func (h *AuctionHandler) HandleResetWins(c tele.Context) error {
	ctx := context.Background()

	args := c.Args()
	if len(args) < 1 {
		return c.Reply("❌ Usage: /resetwins all | <user_id> | @username")
	}

	if strings.EqualFold(args[0], "all") {
		if err := h.engine.ResetAllWins(ctx); err != nil {
			return c.Reply("❌ Failed to reset win counts.")
		}
		return c.Reply("✅ Monthly win counts reset for everyone.")
	}

	targetID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		user, uerr := h.accountService.GetUserByUsername(ctx, strings.TrimPrefix(args[0], "@"))
		if uerr != nil {
			return c.Reply("❌ Give a user ID, a known @username, or \"all\".")
		}
		targetID = user.TelegramID
	}

	cleared, err := h.engine.ResetUserWins(ctx, targetID)
	if err != nil {
		return c.Reply("❌ Failed to reset win count.")
	}
	if !cleared {
		return c.Reply("ℹ️ That user has no wins recorded this month.")
	}
	return c.Reply(fmt.Sprintf("✅ Win count reset for user %d.", targetID))
}
