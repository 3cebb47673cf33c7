package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"kai-bot/internal/auction"
	"kai-bot/internal/config"
	"kai-bot/internal/handler"
	"kai-bot/internal/pkg/lock"
	"kai-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	accountHandler *handler.AccountHandler
	adminHandler   *handler.AdminHandler
	auctionHandler *handler.AuctionHandler
}

// Dependencies holds everything the bot handlers need.
type Dependencies struct {
	Config         *config.Config
	AccountService *service.AccountService
	Engine         *auction.Engine
	UserLock       *lock.UserLock
}

// NewTelebot creates the underlying telebot instance. It is created
// before the auction engine so the engine's notifier can wrap it; New
// then registers the handlers on top.
func NewTelebot(cfg *config.Config) (*tele.Bot, error) {
	if cfg.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  cfg.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return teleBot, nil
}

// New wires handlers and middleware onto an existing telebot instance.
func New(teleBot *tele.Bot, deps *Dependencies) *Bot {
	b := &Bot{
		bot: teleBot,
		cfg: deps.Config,
	}

	b.accountHandler = handler.NewAccountHandler(deps.AccountService, deps.UserLock)
	b.adminHandler = handler.NewAdminHandler(deps.AccountService, deps.UserLock)
	b.auctionHandler = handler.NewAuctionHandler(deps.Engine, deps.AccountService)

	b.registerMiddleware()
	b.registerHandlers()

	return b
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(WhitelistMiddleware(b.cfg))
	b.bot.Use(LoggingMiddleware())
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	// Account handlers
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/daily", b.accountHandler.HandleDaily)
	b.bot.Handle("/top", b.accountHandler.HandleTop)

	// Auction: bidding is open to everyone
	b.bot.Handle("/bid", b.auctionHandler.HandleBid)
	b.bot.Handle("/auctionstatus", b.auctionHandler.HandleAuctionStatus)
	b.bot.Handle(&btnPlaceBid, b.auctionHandler.HandleBidButton)

	// Admin commands
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/give", b.adminHandler.HandleGive)
	adminGroup.Handle("/startauction", b.auctionHandler.HandleStartAuction)
	adminGroup.Handle("/cancelauction", b.auctionHandler.HandleCancelAuction)
	adminGroup.Handle("/endauction", b.auctionHandler.HandleEndAuction)
	adminGroup.Handle("/updateauction", b.auctionHandler.HandleUpdateAuction)
	adminGroup.Handle("/resetwins", b.auctionHandler.HandleResetWins)
}

// Start starts the bot polling. Blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
