package auction

import "fmt"

// Mention formats a Telegram HTML mention for a user without relying on
// their username being known.
func Mention(userID int64) string {
	return fmt.Sprintf(`<a href="tg://user?id=%d">bidder</a>`, userID)
}

func formatThreadBid(userID, amount int64) string {
	return fmt.Sprintf("%s placed a bid of <b>%d</b> smiles!", Mention(userID), amount)
}

func formatThreadOutbid(outbidID, byID int64) string {
	return fmt.Sprintf("⚠️ %s, you've been outbid by %s!", Mention(outbidID), Mention(byID))
}

func formatOutbidDM(byID, amount int64, item string) string {
	return fmt.Sprintf("⚠️ You've been outbid by %s for <b>%d</b> smiles on <b>%s</b>! Your bid has been refunded.",
		Mention(byID), amount, item)
}

func formatEndingSoon(item string, minutes int) string {
	return fmt.Sprintf("⏰ <b>Auction ending soon!</b> The '%s' auction ends in %d minutes!", item, minutes)
}

func formatWon(item string, winnerID, amount int64) string {
	return fmt.Sprintf("🎉 Auction ended! <b>%s</b> won by %s for <b>%d</b> smiles!", item, Mention(winnerID), amount)
}

func formatNoBids() string {
	return "⚠️ Auction ended with no bids."
}

func formatCancelled() string {
	return "❌ Auction cancelled. All bids have been refunded."
}
