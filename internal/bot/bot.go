package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	tele "gopkg.in/telebot.v3"

	"light-status-bot/internal/database"
	"light-status-bot/internal/mq"
	"light-status-bot/internal/stats"
)

// Bot wraps the Telegram bot and the device management commands.
type Bot struct {
	bot       *tele.Bot
	db        *database.DB
	stats     *stats.Calculator
	pub       *mq.Publisher
	baseURL   string
	defaultTZ string
}

var htmlOpts = &tele.SendOptions{ParseMode: tele.ModeHTML}

func New(token string, db *database.DB, calc *stats.Calculator, pub *mq.Publisher, baseURL, defaultTZ string) (*Bot, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	bot := &Bot{
		bot:       b,
		db:        db,
		stats:     calc,
		pub:       pub,
		baseURL:   baseURL,
		defaultTZ: defaultTZ,
	}
	bot.registerHandlers()
	return bot, nil
}

func (b *Bot) registerHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/help", b.handleStart)
	b.bot.Handle("/create", b.handleCreate)
	b.bot.Handle("/key", b.handleKey)
	b.bot.Handle("/newkey", b.handleNewKey)
	b.bot.Handle("/setkey", b.handleSetKey)
	b.bot.Handle("/timezone", b.handleTimezone)
	b.bot.Handle("/target", b.handleTarget)
	b.bot.Handle("/pause", b.handlePause)
	b.bot.Handle("/resume", b.handleResume)
	b.bot.Handle("/delete", b.handleDelete)
	b.bot.Handle("/transfer", b.handleTransfer)
	b.bot.Handle("/history", b.handleHistory)
	b.bot.Handle("/stats", b.handleStats)
	b.bot.Handle("/status", b.handleStatus)
	b.bot.Handle(tele.OnText, b.handleForwarded)
	b.bot.Handle(tele.OnMyChatMember, b.handleMyChatMember)
}

// Start begins long-polling. Blocks until Stop is called.
func (b *Bot) Start() {
	b.bot.Start()
}

func (b *Bot) Stop() {
	b.bot.Stop()
}

// TeleBot exposes the underlying bot for the notification listener.
func (b *Bot) TeleBot() *tele.Bot {
	return b.bot
}

// publishSync tells the server to refresh its in-memory record of a device.
// Best-effort: on failure the server catches up on its next restart.
func (b *Bot) publishSync(msg mq.DeviceSyncMsg) {
	if b.pub == nil {
		return
	}
	if err := b.pub.Publish(context.Background(), mq.RoutingDeviceSync, msg); err != nil {
		log.Printf("[bot] failed to publish device sync for device %d: %v", msg.DeviceID, err)
	}
}
