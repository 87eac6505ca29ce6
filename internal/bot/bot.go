// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"credit-engine/internal/config"
	"credit-engine/internal/handler"
	"credit-engine/internal/service"
)

// Bot wraps the telebot instance with the engine handlers.
type Bot struct {
	bot *tele.Bot
	cfg *config.Config

	accountHandler *handler.AccountHandler
	predictHandler *handler.PredictHandler
	rankingHandler *handler.RankingHandler
	adminHandler   *handler.AdminHandler
}

// Dependencies holds the services the bot handlers call into.
type Dependencies struct {
	Config     *config.Config
	Ledger     *service.LedgerService
	Wagers     *service.WagerService
	Settlement *service.SettlementService
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	teleBot, err := tele.NewBot(tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("Bot handler error")
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:            teleBot,
		cfg:            deps.Config,
		accountHandler: handler.NewAccountHandler(deps.Ledger),
		predictHandler: handler.NewPredictHandler(deps.Wagers),
		rankingHandler: handler.NewRankingHandler(deps.Ledger),
		adminHandler:   handler.NewAdminHandler(deps.Ledger, deps.Settlement),
	}

	b.registerMiddleware()
	b.registerHandlers()
	return b, nil
}

func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(NewWhitelist(b.cfg).Middleware())
	b.bot.Use(LoggingMiddleware())
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/balance", b.accountHandler.HandleBalance)
	b.bot.Handle("/history", b.accountHandler.HandleHistory)

	b.bot.Handle("/predict", b.predictHandler.HandlePredict)
	b.bot.Handle("/mybets", b.predictHandler.HandleMyBets)
	b.bot.Handle("/streak", b.predictHandler.HandleStreak)
	b.bot.Handle("/cancelbet", b.predictHandler.HandleCancelBet)

	b.bot.Handle("/top", b.rankingHandler.HandleTop)

	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/admin_grant", b.adminHandler.HandleGrant)
	adminGroup.Handle("/admin_settle", b.adminHandler.HandleSettle)
	adminGroup.Handle("/admin_cancel", b.adminHandler.HandleCancel)
}

// Start starts long polling. It blocks until Stop is called.
func (b *Bot) Start() {
	log.Info().Str("username", b.bot.Me.Username).Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
