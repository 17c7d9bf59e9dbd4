package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cheongam/chatbot-backend/internal/clients/redis"
	"github.com/cheongam/chatbot-backend/internal/config"
	"github.com/cheongam/chatbot-backend/internal/db"
	"github.com/cheongam/chatbot-backend/internal/http/handlers"
	"github.com/cheongam/chatbot-backend/internal/http/middleware"
	"github.com/cheongam/chatbot-backend/internal/observability"
	"github.com/cheongam/chatbot-backend/internal/platform/assistant"
	"github.com/cheongam/chatbot-backend/internal/platform/bucket"
	"github.com/cheongam/chatbot-backend/internal/platform/envutil"
	"github.com/cheongam/chatbot-backend/internal/platform/logger"
	"github.com/cheongam/chatbot-backend/internal/repos"
	"github.com/cheongam/chatbot-backend/internal/server"
	"github.com/cheongam/chatbot-backend/internal/services"
)

const version = "1.0.0"

func main() {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	shutdownOTel := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "chatbot-backend",
		Environment: cfg.Env,
		Version:     version,
	})
	if shutdownOTel != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownOTel(ctx)
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Warn("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	userRepo := repos.NewUserRepo(thePG, log)
	userTokenRepo := repos.NewUserTokenRepo(thePG, log)
	documentRepo := repos.NewDocumentRepo(thePG, log)
	sessionRepo := repos.NewChatSessionRepo(thePG, log)
	messageRepo := repos.NewChatMessageRepo(thePG, log)
	usageLogRepo := repos.NewUsageLogRepo(thePG, log)

	// Platform clients
	log.Info("Setting up platform clients...")
	bucketService, err := bucket.NewService(log)
	if err != nil {
		log.Fatal("Could not init BucketService", "error", err)
	}
	assistantClient, err := assistant.NewClient(log, cfg)
	if err != nil {
		log.Fatal("Could not init AssistantClient", "error", err)
	}
	{
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := assistantClient.EnsureAssistant(ctx); err != nil {
			cancel()
			log.Fatal("Assistant initialization failed", "error", err)
		}
		cancel()
	}
	sessionCache, err := redis.NewSessionCache(log, cfg.SessionCacheTTL)
	if err != nil {
		log.Fatal("Could not init session cache", "error", err)
	}
	defer sessionCache.Close()

	// Services
	log.Info("Setting up services...")
	authService := services.NewAuthService(thePG, log, userRepo, userTokenRepo, cfg.JWTSecretKey, cfg.AccessTTL, cfg.RefreshTTL)
	usageService := services.NewUsageService(thePG, log, cfg, usageLogRepo, userRepo, documentRepo, sessionRepo, messageRepo)
	documentService := services.NewDocumentService(thePG, log, cfg, documentRepo, userRepo, bucketService, assistantClient)
	chatService := services.NewChatService(thePG, log, cfg, sessionRepo, messageRepo, usageService, assistantClient, sessionCache)
	sessionService := services.NewSessionService(thePG, log, sessionRepo, messageRepo, sessionCache)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	chatHandler := handlers.NewChatHandler(chatService)
	documentHandler := handlers.NewDocumentHandler(documentService)
	sessionHandler := handlers.NewSessionHandler(sessionService)
	usageHandler := handlers.NewUsageHandler(usageService)
	healthHandler := handlers.NewHealthHandler(thePG, sessionCache, assistantClient, version)
	authMiddleware := middleware.NewAuthMiddleware(log, authService)

	router := server.NewRouter(server.RouterConfig{
		Log:             log,
		CORSOrigins:     cfg.CORSOrigins,
		TracingOn:       observability.Enabled(),
		StaticDir:       envutil.Str("STATIC_DIR", "web"),
		AuthHandler:     authHandler,
		ChatHandler:     chatHandler,
		DocumentHandler: documentHandler,
		SessionHandler:  sessionHandler,
		UsageHandler:    usageHandler,
		HealthHandler:   healthHandler,
		AuthMiddleware:  authMiddleware,
	})

	addr := ":" + cfg.Port
	log.Info("Starting server", "addr", addr, "env", cfg.Env)
	if err := router.Run(addr); err != nil {
		log.Fatal("Server exited", "error", err)
	}
}
