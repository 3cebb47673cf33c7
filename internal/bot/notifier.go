package bot

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v3"

	"kai-bot/internal/model"
)

// TelegramNotifier renders auction state into Telegram messages: the
// live message with its bid button, reply-chain thread notices, DMs and
// channel-wide announcements.
type TelegramNotifier struct {
	bot *tele.Bot
}

// NewTelegramNotifier creates a notifier on top of a telebot instance.
func NewTelegramNotifier(bot *tele.Bot) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

func htmlOpts() *tele.SendOptions {
	return &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	}
}

// ShowAuction posts a fresh live auction message and returns its ID.
func (n *TelegramNotifier) ShowAuction(_ context.Context, a *model.Auction) (int, error) {
	opts := htmlOpts()
	opts.ReplyMarkup = auctionKeyboard()

	msg, err := n.bot.Send(tele.ChatID(a.ChatID), renderAuction(a, time.Now()), opts)
	if err != nil {
		return 0, fmt.Errorf("failed to send auction message: %w", err)
	}
	return msg.ID, nil
}

// RefreshAuction re-renders the live auction message in place. The bid
// button is dropped once the auction has ended.
func (n *TelegramNotifier) RefreshAuction(_ context.Context, a *model.Auction) error {
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(a.MessageID),
		ChatID:    a.ChatID,
	}

	now := time.Now()
	opts := htmlOpts()
	if !a.Cancelled && !a.Ended(now) {
		opts.ReplyMarkup = auctionKeyboard()
	}

	if _, err := n.bot.Edit(stored, renderAuction(a, now), opts); err != nil {
		return fmt.Errorf("failed to edit auction message: %w", err)
	}
	return nil
}

// PostToThread posts a notice into the auction's reply chain, anchored
// on the live message.
func (n *TelegramNotifier) PostToThread(_ context.Context, a *model.Auction, text string) error {
	opts := htmlOpts()
	opts.ReplyTo = &tele.Message{
		ID:   a.ThreadID,
		Chat: &tele.Chat{ID: a.ChatID},
	}

	if _, err := n.bot.Send(tele.ChatID(a.ChatID), text, opts); err != nil {
		return fmt.Errorf("failed to post thread notice: %w", err)
	}
	return nil
}

// DirectMessage sends a private message to a user. Fails when the user
// has never opened a private chat with the bot.
func (n *TelegramNotifier) DirectMessage(_ context.Context, userID int64, text string) error {
	if _, err := n.bot.Send(tele.ChatID(userID), text, htmlOpts()); err != nil {
		return fmt.Errorf("failed to send direct message: %w", err)
	}
	return nil
}

// Announce posts to the auction's origin chat.
func (n *TelegramNotifier) Announce(_ context.Context, a *model.Auction, text string) error {
	if _, err := n.bot.Send(tele.ChatID(a.ChatID), text, htmlOpts()); err != nil {
		return fmt.Errorf("failed to send announcement: %w", err)
	}
	return nil
}
