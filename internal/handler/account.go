// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"

	tele "gopkg.in/telebot.v3"

	"kai-bot/internal/pkg/lock"
	"kai-bot/internal/service"
)

// AccountHandler handles account-related commands.
type AccountHandler struct {
	accountService *service.AccountService
	userLock       *lock.UserLock
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountService *service.AccountService, userLock *lock.UserLock) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		userLock:       userLock,
	}
}

func senderName(sender *tele.User) string {
	if sender.Username != "" {
		return sender.Username
	}
	return sender.FirstName
}

// HandleStart handles the /start command.
// Creates an account with a zero balance if the user doesn't have one.
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	username := senderName(sender)

	h.userLock.Lock(sender.ID)
	defer h.userLock.Unlock(sender.ID)

	user, created, err := h.accountService.EnsureUser(ctx, sender.ID, username)
	if err != nil {
		return c.Reply("❌ Failed to create your account, please try again later.")
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 Welcome @%s!\n\n"+
				"Your account is ready. Balance: %d smiles\n\n"+
				"Commands:\n"+
				"/balance - check your balance\n"+
				"/daily - claim your daily reward\n"+
				"/top - leaderboard\n"+
				"/bid <amount> - bid in the live auction",
			username, user.Balance,
		))
	}

	return c.Reply(fmt.Sprintf(
		"👋 Welcome back @%s!\n\nBalance: %d smiles",
		username, user.Balance,
	))
}

// HandleBalance handles the /balance command.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	balance, err := h.accountService.GetBalance(ctx, sender.ID)
	if err != nil {
		// User might not exist yet
		user, _, err := h.accountService.EnsureUser(ctx, sender.ID, senderName(sender))
		if err != nil {
			return c.Reply("❌ Failed to fetch your balance, please try again later.")
		}
		balance = user.Balance
	}

	return c.Reply(fmt.Sprintf("💰 Your balance: %d smiles", balance))
}

// HandleDaily handles the /daily command.
func (h *AccountHandler) HandleDaily(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	h.userLock.Lock(sender.ID)
	defer h.userLock.Unlock(sender.ID)

	if _, _, err := h.accountService.EnsureUser(ctx, sender.ID, senderName(sender)); err != nil {
		return c.Reply("❌ Something went wrong, please try again later.")
	}

	success, msg, err := h.accountService.ClaimDaily(ctx, sender.ID)
	if err != nil {
		return c.Reply("❌ Failed to claim the daily reward, please try again later.")
	}

	if success {
		return c.Reply(fmt.Sprintf("✅ %s", msg))
	}
	return c.Reply(fmt.Sprintf("⏰ %s", msg))
}

// HandleTop handles the /top command.
func (h *AccountHandler) HandleTop(c tele.Context) error {
	ctx := context.Background()

	users, err := h.accountService.GetTopUsers(ctx, 10)
	if err != nil {
		return c.Reply("❌ Failed to fetch the leaderboard, please try again later.")
	}

	if len(users) == 0 {
		return c.Reply("📊 Nobody here yet.")
	}

	msg := "🏆 TOP 10 by smiles\n"
	msg += "━━━━━━━━━━━━━━━\n"

	medals := []string{"🥇", "🥈", "🥉"}
	for i, user := range users {
		rank := fmt.Sprintf("%d.", i+1)
		if i < 3 {
			rank = medals[i]
		}

		displayName := user.Username
		if displayName == "" {
			displayName = fmt.Sprintf("User%d", user.TelegramID)
		}

		msg += fmt.Sprintf("%s @%s: %d\n", rank, displayName, user.Balance)
	}

	msg += "━━━━━━━━━━━━━━━"

	return c.Reply(msg)
}
