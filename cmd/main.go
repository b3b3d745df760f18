package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sanctuary/backend/internal/api/handler"
	"sanctuary/backend/internal/audit"
	"sanctuary/backend/internal/chathub"
	"sanctuary/backend/internal/complaint"
	"sanctuary/backend/internal/config"
	"sanctuary/backend/internal/counselor"
	"sanctuary/backend/internal/localization"
	"sanctuary/backend/internal/logging"
	"sanctuary/backend/internal/retention"
	"sanctuary/backend/internal/session"
	"sanctuary/backend/internal/storage"
	"sanctuary/backend/internal/telegram"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*gorm.DB, *redis.Client) {
	db, err := storage.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect database", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := storage.Migrate(db); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	logger.Info("database and redis connections established")
	return db, rdb
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting session broker", zap.String("env", cfg.App.Env))

	// 1. Storage
	db, rdb := setupDependencies(ctx, cfg, logger)
	store := storage.NewStorageService(db, rdb)
	queue := storage.NewWaitingQueue(rdb)

	// 2. Telegram transport, optional
	localizer, err := localization.NewLocalizer()
	if err != nil {
		logger.Fatal("failed to load translations", zap.Error(err))
	}
	var (
		bot    *tgbotapi.BotAPI
		sender telegram.Sender
	)
	if cfg.Telegram.BotToken != "" {
		bot, err = tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal("failed to start telegram bot", zap.Error(err))
		}
		logger.Info("telegram bot authorized", zap.String("account", bot.Self.UserName))
		sender = bot
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, chat notifications are log-only")
	}

	// 3. Services
	recorder := audit.NewRecorder(store, logger)
	sessions := session.NewBroker(store, logger)
	registry := counselor.NewRegistry(counselor.RegistryDependencies{
		Store:    store,
		Sessions: sessions,
		Audit:    recorder,
		Logger:   logger,
	})
	complaints, err := complaint.NewEngine(complaint.EngineDependencies{
		Store:      store,
		Audit:      recorder,
		Moderation: cfg.Moderation,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("invalid moderation config", zap.Error(err))
	}
	router := chathub.NewRouter(sessions, store, logger)
	hub := chathub.NewManager(chathub.ManagerDependencies{
		Store:     store,
		Notifier:  telegram.NewNotifier(sender, logger),
		Redis:     rdb,
		Formatter: telegram.NewFormatter(localizer),
		Logger:    logger,
	})
	matcher := chathub.NewMatcher(chathub.MatcherDependencies{
		Store:      store,
		Sessions:   sessions,
		Counselors: registry,
		Queue:      queue,
		Hub:        hub,
		Config:     cfg.Match,
		Logger:     logger,
	})
	sweeper, err := retention.NewSweeper(store, cfg.Retention, logger)
	if err != nil {
		logger.Fatal("invalid retention config", zap.Error(err))
	}

	// 4. Background loops
	go hub.Run(ctx)
	go matcher.Run(ctx)
	go sweeper.Run(ctx)
	if bot != nil {
		botService := telegram.NewBotService(telegram.BotDependencies{
			Sender:     bot,
			Store:      store,
			Sessions:   sessions,
			Counselors: registry,
			Complaints: complaints,
			Router:     router,
			Matcher:    matcher,
			Queue:      queue,
			Hub:        hub,
			Localizer:  localizer,
			Logger:     logger,
		})
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		go botService.Run(ctx, bot.GetUpdatesChan(u))
	}

	// 5. HTTP
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handler.NewHandler(handler.Dependencies{
		Store:      store,
		Sessions:   sessions,
		Counselors: registry,
		Complaints: complaints,
		Audit:      recorder,
		Router:     router,
		Hub:        hub,
		Tokens:     handler.NewTokenManager(cfg.Auth),
		Logger:     logger,
	})
	server := &http.Server{
		Addr:           cfg.App.HTTPAddr,
		Handler:        handler.NewRouter(h),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	if bot != nil {
		bot.StopReceivingUpdates()
	}
	hub.CloseAll()
	if err := rdb.Close(); err != nil {
		logger.Warn("redis close failed", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
