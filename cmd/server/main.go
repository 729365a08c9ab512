package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opsdesk-backend/internal/config"
	"opsdesk-backend/internal/database"
	"opsdesk-backend/internal/handlers"
	"opsdesk-backend/internal/middleware"
	"opsdesk-backend/internal/services"
	"opsdesk-backend/internal/ws"
	"opsdesk-backend/pkg/auth"
	"opsdesk-backend/pkg/validator"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var appVersion = "1.0.0"

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	logrus.WithFields(logrus.Fields{
		"version": appVersion,
		"env":     cfg.Env,
	}).Info("starting opsdesk backend")

	db, err := database.NewMongoDB(cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to MongoDB")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("error disconnecting from MongoDB")
		}
	}()

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.CreateIndexes(indexCtx); err != nil {
		logrus.WithError(err).Warn("failed to create some indexes")
	}
	cancel()

	validator.Init()

	jwtManager := auth.NewJWTManager(
		cfg.JWTSecret,
		time.Duration(cfg.JWTExpiration)*time.Hour,
	)

	userCollection := db.Database.Collection("users")
	notificationCollection := db.Database.Collection("notifications")
	reportCollection := db.Database.Collection("reports")

	registry := ws.NewRegistry(cfg.MaxConnections)
	notificationService := services.NewNotificationService(notificationCollection)
	deliveryService := services.NewDeliveryService(registry, notificationService, services.DeliveryConfig{
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleSweepInterval: cfg.IdleSweepInterval,
		IdleThreshold:     cfg.IdleThreshold,
		ReplayBatchSize:   cfg.ReplayBatchSize,
		ReplayDelay:       cfg.ReplayDelay,
	})
	deliveryService.Start()
	reportService := services.NewReportService(reportCollection, notificationService, deliveryService)

	authHandler := handlers.NewAuthHandler(userCollection, jwtManager)
	notificationHandler := handlers.NewNotificationHandler(notificationService, deliveryService)
	reportHandler := handlers.NewReportHandler(reportService, userCollection)
	usersHandler := handlers.NewUsersHandler(userCollection)
	wsHandler := handlers.NewWebSocketHandler(jwtManager, deliveryService)

	router := setupRouter(cfg, deliveryService, jwtManager,
		authHandler, notificationHandler, reportHandler, usersHandler, wsHandler)

	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logrus.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("shutting down")

	deliveryService.Broadcast("Server is shutting down")
	time.Sleep(500 * time.Millisecond)
	deliveryService.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("server forced to shutdown")
	} else {
		logrus.Info("server stopped gracefully")
	}
}

func setupLogging(cfg *config.Config) {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
		logrus.SetFormatter(&logrus.JSONFormatter{})
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		gin.SetMode(gin.DebugMode)
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func setupRouter(
	cfg *config.Config,
	delivery *services.DeliveryService,
	jwtManager *auth.JWTManager,
	authHandler *handlers.AuthHandler,
	notificationHandler *handlers.NotificationHandler,
	reportHandler *handlers.ReportHandler,
	usersHandler *handlers.UsersHandler,
	wsHandler *handlers.WebSocketHandler,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if cfg.RateLimitEnabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
		router.Use(limiter.Middleware())
	}

	// WebSocket endpoint, authenticated via query token during the handshake
	router.GET("/ws", wsHandler.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   appVersion,
			"stats": gin.H{
				"websocket_connections": delivery.ConnectionCount(),
			},
		})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/register", authHandler.Register)
		v1.POST("/auth/login", authHandler.Login)

		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(jwtManager))
		{
			protected.GET("/notifications", notificationHandler.GetNotifications)
			protected.GET("/notifications/unread-count", notificationHandler.GetUnreadCount)
			protected.PUT("/notifications/read", notificationHandler.MarkManyAsRead)
			protected.PUT("/notifications/read-all", notificationHandler.MarkAllAsRead)
			protected.PUT("/notifications/:id/read", notificationHandler.MarkAsRead)
			protected.DELETE("/notifications/:id", notificationHandler.DeleteNotification)

			protected.GET("/users", usersHandler.GetUsers)
			protected.PUT("/users/password", usersHandler.UpdatePassword)

			protected.POST("/reports", reportHandler.SubmitReport)
			protected.GET("/reports", reportHandler.GetReports)
			protected.GET("/reports/:id", reportHandler.GetReport)
			protected.DELETE("/reports/:id", reportHandler.DeleteReport)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtManager))
		admin.Use(middleware.AdminMiddleware())
		{
			admin.POST("/notifications/send", notificationHandler.SendNotification)
			admin.GET("/notifications/unsent", notificationHandler.GetUnsent)
			admin.PUT("/users/:id/block", usersHandler.BlockUser)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Endpoint not found",
			"path":  c.Request.URL.Path,
		})
	})

	return router
}
