package bot

import (
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"kai-bot/internal/auction"
	"kai-bot/internal/model"
)

// btnPlaceBid is the inline button under the live auction message.
var btnPlaceBid = tele.Btn{Unique: "auction_bid", Text: "💰 Place Bid"}

// auctionKeyboard returns the inline keyboard for a live auction message.
func auctionKeyboard() *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(btnPlaceBid))
	return markup
}

// renderAuction renders the live auction message body as Telegram HTML.
func renderAuction(a *model.Auction, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "🔨 <b>AUCTION: %s</b>\n", a.Item)
	if a.Description != "" {
		fmt.Fprintf(&b, "%s\n", a.Description)
	}
	b.WriteString("━━━━━━━━━━━━━━━\n")

	fmt.Fprintf(&b, "💵 Minimum bid: <b>%d</b> smiles\n", a.MinimumBid)
	if a.HighestBidder != nil {
		fmt.Fprintf(&b, "🏅 Current bid: <b>%d</b> smiles by %s\n",
			a.HighestBid, auction.Mention(*a.HighestBidder))
	} else {
		b.WriteString("🏅 Current bid: none yet\n")
	}

	if a.Cancelled {
		b.WriteString("\n🚫 <b>AUCTION CANCELLED BY ADMIN</b>\n")
	} else if a.Ended(now) {
		b.WriteString("\n🛑 <b>AUCTION ENDED</b>\n")
	} else {
		fmt.Fprintf(&b, "\n⏳ REMAINING TIME: <b>%s</b>\n", renderCountdown(a.Remaining(now)))
		fmt.Fprintf(&b, "🗓 Ends: %s\n", a.EndTime.UTC().Format("2006-01-02 15:04 MST"))
	}

	if a.ImageURL != "" {
		fmt.Fprintf(&b, "\n🖼 <a href=\"%s\">Item photo</a>", a.ImageURL)
	}
	if a.BannerURL != "" {
		fmt.Fprintf(&b, "\n🎨 <a href=\"%s\">Banner</a>", a.BannerURL)
	}

	return b.String()
}

// renderCountdown renders remaining time as "2d 5h 30m" with minute
// resolution.
func renderCountdown(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
