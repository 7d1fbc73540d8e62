package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"

	"light-status-bot/internal/cache"
	"light-status-bot/internal/config"
	"light-status-bot/internal/database"
	"light-status-bot/internal/handlers"
	"light-status-bot/internal/heartbeat"
	"light-status-bot/internal/mq"
	"light-status-bot/internal/probe"
	"light-status-bot/internal/stats"
)

func main() {
	// Load .env if present.
	_ = godotenv.Load()

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Database ---
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database connected and migrated")

	// --- Redis ---
	redisCache, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisCache.Close()
	log.Println("redis connected")

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

	// --- Heartbeat service ---
	calc := stats.NewCalculator(db)
	notifier := mq.NewStatusNotifier(publisher)
	hbService := heartbeat.NewService(db, redisCache, calc, notifier, cfg.OfflineThreshold)

	devices, err := db.GetAllDevices(ctx)
	if err != nil {
		log.Fatalf("load devices: %v", err)
	}
	hbService.LoadDevices(devices)

	go hbService.StartChecker(ctx, cfg.CheckInterval)

	// --- Device sync from the bot ---
	sync := newSyncListener(db, hbService, redisCache, consumer)
	go sync.start(ctx)

	// --- Active ICMP prober ---
	prober := probe.New(db, hbService)
	go prober.Start(ctx, cfg.ProbeInterval)

	// --- Fiber HTTP server ---
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New())

	h := &handlers.Handlers{DB: db, HeartbeatSvc: hbService, Stats: calc}
	api := app.Group("/api")
	api.Get("/ping/:token?", h.Ping)
	api.Get("/devices/:id", h.GetDevice)
	api.Get("/devices/:id/stats", h.GetStats)
	api.Get("/devices/:id/history", h.GetHistory)
	api.Get("/devices/:id/export", h.GetExport)

	// --- Graceful shutdown ---
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	log.Printf("server starting on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
