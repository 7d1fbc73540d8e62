package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"light-status-bot/internal/bot"
	"light-status-bot/internal/config"
	"light-status-bot/internal/database"
	"light-status-bot/internal/mq"
	"light-status-bot/internal/stats"
)

func main() {
	// Load .env if present.
	_ = godotenv.Load()

	cfg := config.Load()

	if cfg.BotToken == "" {
		log.Fatal("BOT_TOKEN is required. Get one from @BotFather on Telegram.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Database ---
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	log.Println("database connected")

	// --- RabbitMQ ---
	publisher, err := mq.NewPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("rabbitmq publisher: %v", err)
	}
	defer publisher.Close()

	consumer, err := mq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("rabbitmq consumer: %v", err)
	}
	defer consumer.Close()
	log.Println("rabbitmq connected")

	// --- Telegram bot ---
	calc := stats.NewCalculator(db)
	tgBot, err := bot.New(cfg.BotToken, db, calc, publisher, cfg.BaseURL, cfg.DefaultTimezone)
	if err != nil {
		log.Fatalf("bot: %v", err)
	}

	// --- Notification listener ---
	notifier := bot.NewChannelNotifier(tgBot.TeleBot(), db, publisher)
	l := newListener(consumer, notifier)
	go l.start(ctx)

	go tgBot.Start()
	defer tgBot.Stop()
	log.Println("telegram bot started")

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down bot...")
	cancel()
}
