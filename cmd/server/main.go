package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/config"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/entity"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/handler"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/repository"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/marketplace/service"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/middleware"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/shared/gateway"
	"github.com/abdoElHodaky/larvrevrstender-sub000/internal/worker"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := initLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting marketplace service",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	db, err := initDatabase(cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}

	rdb := initRedis(cfg.Redis)

	repos := repository.NewRepositories(db)
	gateways := initGateways(cfg)
	services := service.NewServices(repos, rdb, gateways, cfg, zapLogger)
	handlers := handler.NewHandlers(services)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweeper := worker.NewSweeper(services, rdb, cfg, zapLogger.Named("sweeper"))
	go sweeper.Run(sweepCtx)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(zapLogger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	registerRoutes(router, handlers, cfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		zapLogger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")
	stopSweeper()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config

	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	return zapCfg.Build()
}

func initDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	// TranslateError maps unique-index violations to gorm.ErrDuplicatedKey,
	// which the order pipeline relies on for idempotent creation.
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&entity.PartRequest{},
		&entity.Bid{},
		&entity.Order{},
		&entity.Invoice{},
		&entity.InvoiceLineItem{},
		&entity.Payment{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return db, nil
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func initGateways(cfg *config.Config) service.Gateways {
	gw := service.Gateways{}

	if cfg.Gateways.Payment.BaseURL != "" {
		gw.Payment = gateway.NewPaymentClient(
			cfg.Gateways.Payment.Provider,
			cfg.Gateways.Payment.BaseURL,
			cfg.Gateways.Payment.APIKey,
			cfg.Gateways.Payment.Timeout,
		)
	}
	if cfg.Gateways.Zatca.BaseURL != "" {
		gw.Tax = gateway.NewZatcaClient(
			cfg.Gateways.Zatca.BaseURL,
			cfg.Gateways.Zatca.APIKey,
			cfg.Gateways.Zatca.Timeout,
		)
	}
	if cfg.Gateways.Notification.BaseURL != "" {
		gw.Notifier = gateway.NewNotificationClient(
			cfg.Gateways.Notification.BaseURL,
			cfg.Gateways.Notification.APIKey,
			cfg.Gateways.Notification.Timeout,
		)
	}
	if cfg.Gateways.Directory.BaseURL != "" {
		client := gateway.NewDirectoryClient(
			cfg.Gateways.Directory.BaseURL,
			cfg.Gateways.Directory.APIKey,
			cfg.Gateways.Directory.Timeout,
		)
		gw.Directory = client
		gw.Vehicles = client
	}

	return gw
}

func registerRoutes(r *gin.Engine, h *handler.Handlers, cfg *config.Config) {
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/health/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
		})
	})

	// Provider callbacks carry no user JWT.
	webhooks := r.Group("/webhooks", middleware.WebhookAuth(cfg.Gateways.Payment.WebhookSecret))
	{
		webhooks.POST("/payments/:provider", h.Payment.Webhook)
	}

	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(cfg.JWT.Secret))
	{
		requests := v1.Group("/part-requests")
		{
			requests.GET("", h.PartRequest.List)
			requests.POST("", h.PartRequest.Create)
			requests.GET("/:id", h.PartRequest.Get)
			requests.POST("/:id/publish", h.PartRequest.Publish)
			requests.POST("/:id/cancel", h.PartRequest.Cancel)

			requests.GET("/:id/bids", h.Bid.ListByRequest)
			requests.POST("/:id/bids", h.Bid.Submit)
		}

		bids := v1.Group("/bids")
		{
			bids.GET("", h.Bid.ListMine)
			bids.POST("/:id/accept", h.Bid.Accept)
			bids.POST("/:id/withdraw", h.Bid.Withdraw)
			bids.POST("/:id/reject", h.Bid.Reject)
		}

		orders := v1.Group("/orders")
		{
			orders.GET("", h.Order.List)
			orders.GET("/:id", h.Order.Get)
			orders.GET("/:id/history", h.Order.History)
			orders.POST("/:id/processing", h.Order.MarkProcessing)
			orders.POST("/:id/ship", h.Order.Ship)
			orders.POST("/:id/deliver", h.Order.Deliver)
			orders.POST("/:id/complete", h.Order.Complete)
			orders.POST("/:id/cancel", h.Order.Cancel)
			orders.POST("/:id/rate", h.Order.Rate)
		}

		invoices := v1.Group("/invoices")
		{
			invoices.GET("", h.Invoice.List)
			invoices.GET("/:id", h.Invoice.Get)
			invoices.POST("/:id/resend", h.Invoice.Resend)
			invoices.POST("/:id/view", h.Invoice.MarkViewed)
			invoices.POST("/:id/cancel", h.Invoice.Cancel)
			invoices.POST("/:id/discount", h.Invoice.ApplyDiscount)
			invoices.POST("/:id/zatca/submit", h.Invoice.SubmitToZatca)
			invoices.POST("/:id/payments", h.Payment.Initiate)
		}

		payments := v1.Group("/payments")
		{
			payments.GET("", h.Payment.List)
			payments.GET("/:id", h.Payment.Get)
			payments.POST("/:id/process", h.Payment.Process)
			payments.POST("/:id/refund", middleware.RequireRole("finance"), h.Payment.Refund)
			payments.POST("/reconcile", middleware.RequireRole("finance"), h.Payment.Reconcile)
		}
	}
}
