package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	grpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"dm-service/internal/auth"
	"dm-service/internal/config"
	"dm-service/internal/db"
	grpcclient "dm-service/internal/grpc"
	"dm-service/internal/handlers"
	"dm-service/internal/logging"
	"dm-service/internal/messaging"
	"dm-service/internal/middleware"
	"dm-service/internal/observability"
	"dm-service/internal/rabbitmq"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
	"dm-service/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Service, cfg.OTel.Endpoint, cfg.OTel.Insecure, logger)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	database, err := db.Connect(cfg.DB.Driver, cfg.DB.DSN, cfg.DB.MaxOpenConns, logger)
	if err != nil {
		logger.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(publisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(publisher)))
	auditEmitter := telemetry.NewAuditEmitter(publisher, "audit.logs", cfg.Service, cfg.Environment, logger)

	validator, closeAuth, err := buildValidator(cfg.Auth, logger)
	if err != nil {
		logger.Fatal("failed to build auth provider", zap.Error(err))
	}
	defer closeAuth()

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)
	callRepo := repositories.NewCallLogRepo(database)

	hub := ws.NewHub(logger)
	resolver := messaging.NewResolver(convRepo)
	msgRouter := messaging.NewRouter(resolver, messageRepo, hub, cfg.DB.StoreTimeout, logger)
	presence := messaging.NewPresence(hub, resolver, messageRepo, userRepo, messaging.PresenceOptions{
		Scope:        cfg.Presence.Scope,
		StoreTimeout: cfg.DB.StoreTimeout,
	}, logger)
	relay := messaging.NewRelay(hub, logger)

	chatHandler := handlers.NewChatHandler(convRepo, messageRepo, resolver, msgRouter, presence, hub, auditEmitter, cfg.DB.StoreTimeout, logger)
	callHandler := handlers.NewCallHandler(callRepo, auditEmitter, cfg.DB.StoreTimeout, logger)
	connHandler := ws.NewConnHandler(hub, validator, msgRouter, presence, relay, cfg.WS, logger)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Service))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": hub.Count()})
	})
	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.Debug)

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/contacts", authMiddleware, chatHandler.ListContacts)
	router.GET("/messages/:contact_id", authMiddleware, chatHandler.GetMessages)
	router.POST("/messages/:contact_id", authMiddleware, chatHandler.PostMessage)
	router.POST("/messages/:contact_id/read", authMiddleware, chatHandler.MarkRead)

	router.POST("/calls", authMiddleware, callHandler.CreateCall)
	router.PATCH("/calls/:call_id", authMiddleware, callHandler.UpdateCall)
	router.GET("/calls", authMiddleware, callHandler.ListCalls)

	router.GET("/ws/chat", connHandler.Handle)

	srv := &http.Server{Addr: cfg.HTTPAddress, Handler: router}
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddress))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}

func buildValidator(cfg config.AuthConfig, logger *zap.Logger) (auth.TokenValidator, func(), error) {
	if cfg.Provider == config.AuthProviderJWT {
		logger.Info("auth provider: local jwt")
		return auth.NewJWTValidator(cfg.JWTSecret), func() {}, nil
	}

	authConn, err := grpc.Dial(cfg.GRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("auth provider: grpc", zap.String("addr", cfg.GRPCAddr))
	return grpcclient.NewAuthClient(authConn), func() { _ = authConn.Close() }, nil
}
