package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-core/internal/calls"
	"chat-core/internal/config"
	"chat-core/internal/db"
	"chat-core/internal/delivery"
	"chat-core/internal/gate"
	grpcclient "chat-core/internal/grpc"
	"chat-core/internal/handlers"
	"chat-core/internal/logging"
	"chat-core/internal/middleware"
	"chat-core/internal/observability"
	"chat-core/internal/rabbitmq"
	"chat-core/internal/repositories"
	"chat-core/internal/scheduler"
	"chat-core/internal/telemetry"
	"chat-core/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", "dev")
		fallback.Fatal().Err(err).Msg("loading config failed")
	}
	logger := logging.New(cfg.LogLevel, cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		logger.Fatal().Err(err).Msg("tracing setup failed")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	database, err := db.Connect(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer database.Close()

	authConn, err := grpcclient.Dial(cfg.AuthGRPCAddr, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.AuthGRPCAddr).Msg("auth grpc dial failed")
	}
	defer authConn.Close()
	userConn, err := grpcclient.Dial(cfg.UserGRPCAddr, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.UserGRPCAddr).Msg("user grpc dial failed")
	}
	defer userConn.Close()
	socialConn, err := grpcclient.Dial(cfg.SocialGRPCAddr, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.SocialGRPCAddr).Msg("social grpc dial failed")
	}
	defer socialConn.Close()
	translateConn, err := grpcclient.Dial(cfg.TranslateGRPCAddr, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.TranslateGRPCAddr).Msg("translate grpc dial failed")
	}
	defer translateConn.Close()

	authClient := grpcclient.NewAuthClient(authConn)
	userClient := grpcclient.NewUserClient(userConn)
	socialClient := grpcclient.NewSocialClient(socialConn)
	translateClient := grpcclient.NewTranslateClient(translateConn)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	if eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange); err == nil {
		observability.SetPublisher(eventPublisher)
		defer eventPublisher.Close()
	} else {
		logger.Warn().Err(err).Msg("ws event publisher unavailable")
	}
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat-core", "chat-core", cfg.Environment, logger)

	messageRepo := repositories.NewMessageRepo(database)
	groupRepo := repositories.NewGroupRepo(database)
	callRepo := repositories.NewCallRepo(database)
	notificationRepo := repositories.NewNotificationRepo(database)

	notifyGate := gate.New(socialClient, userClient, logger)
	hub := ws.NewHub(notifyGate, userClient, logger)

	deliveryService := delivery.NewService(
		messageRepo, groupRepo, notificationRepo,
		hub, notifyGate, socialClient, userClient, translateClient,
		publisher, logger,
	)
	callService := calls.NewService(callRepo, notificationRepo, hub, notifyGate, publisher, cfg.CallRingTimeout, logger)

	dispatcher := scheduler.NewDispatcher(messageRepo, deliveryService, cfg.DispatchTick, cfg.DispatchBatchSize, logger)
	if err := dispatcher.Start(); err != nil {
		logger.Fatal().Err(err).Msg("dispatcher start failed")
	}
	defer dispatcher.Stop()

	messageHandler := handlers.NewMessageHandler(deliveryService, audit)
	presenceHandler := handlers.NewPresenceHandler(hub, notifyGate, userClient)
	notificationHandler := handlers.NewNotificationHandler(notificationRepo)
	wsHandler := ws.NewHandler(hub, authClient, deliveryService, callService, notifyGate, cfg.WSEventRate, cfg.WSEventBurst, logger)

	if cfg.Environment != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-core"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(authClient)

	router.POST("/messages", authMiddleware, messageHandler.SendMessage)
	router.POST("/messages/schedule", authMiddleware, messageHandler.ScheduleMessage)
	router.DELETE("/messages/:message_id/schedule", authMiddleware, messageHandler.CancelScheduled)
	router.GET("/messages/:message_id/status", authMiddleware, messageHandler.MessageStatus)

	router.GET("/presence/online", authMiddleware, presenceHandler.OnlineUsers)
	router.GET("/presence/:user_id", authMiddleware, presenceHandler.UserPresence)

	router.GET("/notifications", authMiddleware, notificationHandler.ListNotifications)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		os.Exit(1)
	}
}
