package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vox-ai-tgbot-go/internal/config"
	"github.com/vox-ai-tgbot-go/internal/dispatch"
	"github.com/vox-ai-tgbot-go/internal/handlers"
	"github.com/vox-ai-tgbot-go/internal/i18n"
	"github.com/vox-ai-tgbot-go/internal/middleware"
	"github.com/vox-ai-tgbot-go/internal/services/ai"
	"github.com/vox-ai-tgbot-go/internal/services/profile"
	"github.com/vox-ai-tgbot-go/internal/session"
	"github.com/vox-ai-tgbot-go/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Telegram Bot...")

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}

	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable storage and the cache-fronted profile store
	storage, err := profile.NewStorage(&cfg.Storage, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}

	metrics := middleware.NewMetrics()
	profiles := profile.NewStore(storage, cfg, metrics, log)

	aiService := ai.NewClient(&cfg.AI, log)

	admission := middleware.NewAdmissionController(&cfg.RateLimit, log)

	sessions := session.NewManager(cfg.Session.DialogTimeout, log)

	dispatcher := dispatch.NewDispatcher(ctx, log)

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Expired dialogs notify the user that their pending setting was dropped
	sessions.OnTimeout(func(userID int64) {
		metrics.RecordDialogTimeout()

		lang := cfg.I18n.DefaultLanguage
		if prof, err := profiles.Get(ctx, userID); err == nil {
			lang = prof.Language
		}
		msg := tgbotapi.NewMessage(userID, localizer.Get(lang, i18n.MsgDialogExpired, nil))
		if _, err := bot.Send(msg); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("Failed to notify dialog timeout")
		}
	})

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	commandHandler := handlers.NewCommandHandler(
		bot,
		cfg,
		aiService,
		profiles,
		sessions,
		admission,
		dispatcher,
		localizer,
		metrics,
		log,
	)

	messageHandler := handlers.NewMessageHandler(
		cfg,
		bot,
		aiService,
		profiles,
		sessions,
		admission,
		dispatcher,
		localizer,
		metrics,
		log,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Bot.UpdateTimeout
	updates := bot.GetUpdatesChan(u)
	log.Info("Using long polling")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for update := range updates {
			if update.CallbackQuery != nil {
				if err := commandHandler.HandleCallbackQuery(ctx, update.CallbackQuery); err != nil {
					log.WithError(err).Error("Failed to handle callback query")
				}
				continue
			}

			if update.Message == nil {
				continue
			}

			if update.Message.IsCommand() {
				metrics.RecordCommandExecuted(update.Message.Command())

				if err := commandHandler.HandleCommand(ctx, update.Message); err != nil {
					log.WithError(err).Error("Failed to handle command")
				}
				continue
			}

			if err := messageHandler.HandleMessage(ctx, &update); err != nil {
				log.WithError(err).Error("Failed to handle message")
			}
		}
	}()

	<-sigChan
	log.Info("Shutdown signal received")

	bot.StopReceivingUpdates()
	cancel()

	// Let in-flight jobs observe cancellation and finish
	dispatcher.Wait()

	if err := storage.Close(); err != nil {
		log.WithError(err).Error("Failed to close storage")
	}

	log.Info("Bot stopped")
}
