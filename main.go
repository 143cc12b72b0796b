package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"google.golang.org/grpc"

	"chat-engine/internal/auth"
	"chat-engine/internal/blob"
	"chat-engine/internal/chat"
	"chat-engine/internal/config"
	"chat-engine/internal/db"
	grpcclient "chat-engine/internal/grpc"
	"chat-engine/internal/handlers"
	"chat-engine/internal/kafka"
	"chat-engine/internal/middleware"
	"chat-engine/internal/observability"
	"chat-engine/internal/rabbitmq"
	"chat-engine/internal/repositories"
	"chat-engine/internal/telemetry"
	"chat-engine/internal/ws"
)

const serviceName = "chat-engine"

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("dev", "info").Error("config load failed", "err", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("chat-engine stopped with error", "err", err)
		os.Exit(1)
	}
	logger.Info("chat-engine stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, serviceName, cfg.Env, logger)
	if err != nil {
		return err
	}
	defer shutdownCtx(cfg, shutdownTracing)

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()
	emitter := telemetry.NewEventEmitter(publisher, cfg.EventsPrefix, serviceName, cfg.Env, logger)
	emitter.Start(cfg.EventsBuffer)
	defer shutdownCtx(cfg, emitter.Close)

	hub := ws.NewHub(logger)
	opts := []chat.Option{
		chat.WithBroadcaster(hub),
		chat.WithEventSink(emitter),
		chat.WithLogger(logger),
	}

	var authenticator middleware.Authenticator
	if cfg.JWTSecret != "" {
		jwtAuth, err := auth.NewJWTAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
		if err != nil {
			return err
		}
		authenticator = jwtAuth
		logger.Info("using local jwt authentication", "issuer", cfg.JWTIssuer)
	} else {
		authConn, err := grpcclient.Dial(cfg.AuthGRPCAddr, logger)
		if err != nil {
			return err
		}
		defer authConn.Close()
		authClient := grpcclient.NewAuthClient(authConn, cfg.GRPCCallTimeout)
		authenticator = authClient
		opts = append(opts, chat.WithDirectory(authClient))
	}

	if cfg.CatalogGRPCAddr != "" {
		catalogConn, err := grpcclient.Dial(cfg.CatalogGRPCAddr, logger)
		if err != nil {
			return err
		}
		defer catalogConn.Close()
		opts = append(opts, chat.WithCatalog(grpcclient.NewCatalogClient(catalogConn, cfg.GRPCCallTimeout)))
	} else {
		logger.Warn("catalog not configured, item-linked conversations are unavailable")
	}

	resolver, err := openResolver(cfg, logger)
	if err != nil {
		return err
	}
	if resolver != nil {
		opts = append(opts, chat.WithURLResolver(resolver))
	}

	svc := chat.NewService(store, opts...)
	svc.Subscribe(observability.UserMetrics{})

	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(serviceName),
		observability.RequestIDMiddleware(),
		observability.HTTPMetricsMiddleware(),
	)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	handlers.NewHandler(svc, logger).Register(router, middleware.AuthMiddleware(authenticator))
	wsHandler := ws.NewConversationHandler(hub, svc, authenticator, emitter, cfg.HubSessionBuffer, logger)
	router.GET("/ws/conversations/:id", wsHandler.Handle)

	grpcServer, health := grpcclient.NewServer(logger)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: router}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc server starting", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		logger.Info("http server starting", "port", cfg.Port, "env", cfg.Env, "store", cfg.StoreDriver, "events", cfg.EventsDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	health.Shutdown()
	shutdownCtx(cfg, httpServer.Shutdown)
	grpcServer.GracefulStop()
	return runErr
}

func shutdownCtx(cfg config.Config, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Warn("shutdown step failed", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repositories.Store, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Info("using in-memory store")
		return repositories.NewMemoryStore(), func() {}, nil
	}
	database, err := db.Connect(ctx, cfg.DBDSN, logger)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewPostgresStore(database), func() { database.Close() }, nil
}

func openPublisher(cfg config.Config, logger *slog.Logger) (telemetry.Publisher, func(), error) {
	switch cfg.EventsDriver {
	case "kafka":
		producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, nil)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("publishing events to kafka", "topic", cfg.KafkaTopic)
		return producer, func() { producer.Close() }, nil
	case "amqp":
		publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		logger.Info("publishing events to rabbitmq", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))
		return publisher, func() { publisher.Close() }, nil
	default:
		logger.Info("domain events disabled")
		return nil, func() {}, nil
	}
}

func openResolver(cfg config.Config, logger *slog.Logger) (chat.URLResolver, error) {
	switch {
	case cfg.BlobEndpoint != "":
		return blob.NewPresignClient(cfg.BlobEndpoint, cfg.BlobUseSSL, cfg.BlobAccessKey, cfg.BlobSecretKey, cfg.BlobBucket, cfg.BlobURLExpiry, logger)
	case cfg.BlobPublicURL != "":
		return blob.NewStaticResolver(cfg.BlobPublicURL, cfg.BlobBucket), nil
	default:
		return nil, nil
	}
}
