package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"project-chat-service/internal/auth"
	"project-chat-service/internal/config"
	"project-chat-service/internal/db"
	"project-chat-service/internal/handlers"
	"project-chat-service/internal/middleware"
	"project-chat-service/internal/observability"
	"project-chat-service/internal/rabbitmq"
	"project-chat-service/internal/repositories"
	"project-chat-service/internal/room"
	"project-chat-service/internal/telemetry"
	"project-chat-service/internal/ws"
)

func main() {
	cfg := config.Load()

	shutdownTracing, err := observability.SetupTracing(context.Background(), "project-chat-service", cfg.OTLPAddr)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	if cfg.AMQPURL != "" {
		eventPublisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange)
		if err != nil {
			log.Printf("event publishing disabled: %v", err)
		} else {
			observability.SetPublisher(eventPublisher)
			defer eventPublisher.Close()
		}
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.Exchange)
	defer auditPublisher.Close()
	if mode := rabbitmq.PublisherMode(auditPublisher); mode == "noop" {
		log.Printf("audit publisher mode=noop reason=%q", rabbitmq.PublisherNoopReason(auditPublisher))
	}
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, "audit_log.chat", "project-chat-service", cfg.Env)

	projectRepo := repositories.NewProjectRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	registry := room.NewRegistry(messageRepo, room.Options{
		TypingTTL:     cfg.TypingTTL,
		MaxMessageLen: cfg.MaxMessageLen,
	})

	verifier := auth.NewJWTVerifier(cfg.JWTSecret)

	historyHandler := handlers.NewHistoryHandler(projectRepo, messageRepo, auditEmitter)
	wsHandler := ws.NewHandler(registry, projectRepo, verifier, cfg.SendBufferSize)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("project-chat-service"))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/projects/:project_id/messages", authMiddleware, historyHandler.GetProjectMessages)
	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
