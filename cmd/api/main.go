package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-community-api/internal/config"
	"github.com/noah-isme/gema-community-api/internal/database"
	"github.com/noah-isme/gema-community-api/internal/feed"
	"github.com/noah-isme/gema-community-api/internal/handler"
	"github.com/noah-isme/gema-community-api/internal/middleware"
	"github.com/noah-isme/gema-community-api/internal/models"
	"github.com/noah-isme/gema-community-api/internal/repository"
	"github.com/noah-isme/gema-community-api/internal/router"
	"github.com/noah-isme/gema-community-api/internal/service"
	"github.com/noah-isme/gema-community-api/pkg/ai"
	cloud "github.com/noah-isme/gema-community-api/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("node_id", cfg.Feed.NodeID).Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Profile{}, &models.Message{}, &models.Notification{}, &models.Relation{}, &models.MediaAsset{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	feedCtx, stopFeeds := context.WithCancel(context.Background())
	defer stopFeeds()

	broker := feed.NewBroker(cfg.Feed.Buffer, logger)
	publishers := []feed.Publisher{broker}

	if cfg.Feed.RedisEnabled {
		redisClient, err := database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()

		redisFeed := feed.NewRedisFeed(redisClient, cfg.Feed.RedisPrefix, cfg.Feed.NodeID, broker, logger)
		if err := redisFeed.Start(feedCtx); err != nil {
			log.Fatalf("failed to start redis change feed: %v", err)
		}
		publishers = append(publishers, redisFeed)
	}

	if cfg.Feed.NATSURL != "" {
		natsConn, err := database.ConnectNATS(cfg.Feed.NATSURL, cfg.AppName, logger)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()

		natsFeed := feed.NewNATSFeed(natsConn, cfg.Feed.NATSSubjectPrefix, cfg.Feed.NodeID, broker, logger)
		if err := natsFeed.Start(feedCtx); err != nil {
			log.Fatalf("failed to start nats change feed: %v", err)
		}
		publishers = append(publishers, natsFeed)
	}

	if cfg.Feed.UpstreamURL != "" {
		header := http.Header{}
		if cfg.Feed.UpstreamToken != "" {
			header.Set("Authorization", "Bearer "+cfg.Feed.UpstreamToken)
		}
		upstream := feed.NewWebSocketFeed(cfg.Feed.UpstreamURL, header, cfg.Feed.RetryInterval, broker, logger)
		go upstream.Run(feedCtx)
	}

	publisher := feed.NewFanout(publishers...)
	validate := validator.New(validator.WithRequiredStructEnabled())

	messageRepo := repository.NewMessageRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	relationRepo := repository.NewRelationRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	mediaRepo := repository.NewMediaRepository(db)

	notificationService := service.NewNotificationService(notificationRepo, publisher, validate, logger)
	messagingService := service.NewMessagingService(messageRepo, profileRepo, notificationService, publisher, validate, logger)
	engagementService := service.NewEngagementService(relationRepo, profileRepo, notificationService, logger)

	var chatter ai.Chatter
	if cfg.OpenAI.APIKey != "" {
		openAIChatter, err := ai.NewOpenAIChatter(ai.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			MaxTokens:   cfg.OpenAI.MaxTokens,
			Temperature: cfg.OpenAI.Temperature,
			Logger:      logger,
		})
		if err != nil {
			log.Fatalf("failed to create assistant client: %v", err)
		}
		chatter = openAIChatter
	} else {
		logger.Warn().Msg("openai api key missing; assistant disabled")
	}
	assistantService := service.NewAssistantService(chatter, profileRepo, messageRepo, notificationRepo, validate, logger)

	sessions := service.NewSessionManager(service.SessionManagerConfig{
		Feed:                     broker,
		Messaging:                messagingService,
		Notifications:            notificationService,
		Engagement:               engagementService,
		Profiles:                 profileRepo,
		ConversationPollInterval: cfg.Sync.ConversationPollInterval,
		ThreadPollInterval:       cfg.Sync.ThreadPollInterval,
		NotificationPollInterval: cfg.Sync.NotificationPollInterval,
		RetryInterval:            cfg.Feed.RetryInterval,
		PollRate:                 cfg.Sync.PollRate,
		PollBurst:                cfg.Sync.PollBurst,
		Logger:                   logger,
	})

	deps := router.Dependencies{
		ConversationHandler: handler.NewConversationHandler(messagingService, sessions, validate, logger),
		NotificationHandler: handler.NewNotificationHandler(notificationService, sessions, logger, cfg.Sync.StreamKeepAlive),
		RelationHandler:     handler.NewRelationHandler(engagementService, sessions, validate, logger),
		SyncHandler:         handler.NewSyncHandler(sessions, validate, logger),
		AssistantHandler:    handler.NewAssistantHandler(assistantService, logger),
		Sessions:            sessions,
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
	}

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.Cloudinary.CloudName,
		APIKey:    cfg.Cloudinary.APIKey,
		APISecret: cfg.Cloudinary.APISecret,
		Folder:    cfg.Cloudinary.Folder,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("media uploads disabled")
	} else {
		mediaService := service.NewMediaService(uploader, mediaRepo, cfg.MaxUploadMB, logger)
		deps.MediaHandler = handler.NewMediaHandler(mediaService, logger)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.MaxUploadMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, deps)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)

	sessions.Shutdown()
	stopFeeds()
	broker.Close()
	logger.Info().Msg("sync sessions closed")
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
