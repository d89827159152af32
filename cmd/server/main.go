package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wholesale-market/config"
	"wholesale-market/internal/api"
	"wholesale-market/internal/broker"
	"wholesale-market/internal/gateway"
	"wholesale-market/internal/redisclient"
	"wholesale-market/internal/service"
	"wholesale-market/internal/settlement"
	"wholesale-market/internal/store"
	"wholesale-market/internal/util"
	"wholesale-market/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting wholesale market service", zap.String("env", cfg.Server.Env))

	tp, err := util.InitTracer(cfg.Observ.JaegerEndpoint, cfg.Server.Env, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	calculator, err := settlement.NewCalculator(cfg.Business.PlatformFeeRate, cfg.Business.PayoutLeadBusinessDays)
	if err != nil {
		logger.Fatal("Invalid settlement configuration", zap.Error(err))
	}

	gw, err := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.Gateway.BaseURL,
		SecretKey:  cfg.Gateway.SecretKey,
		Timeout:    cfg.Gateway.Timeout,
		RetryCount: cfg.Gateway.RetryCount,
	})
	if err != nil {
		logger.Fatal("Invalid payment gateway configuration", zap.Error(err))
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.RunMigrations {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Info("Migrations applied")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	orderProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer orderProducer.Close()
	webhookProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhooks)
	defer webhookProducer.Close()
	logger.Info("Kafka producers initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	eventPublisher := broker.NewEventPublisher(orderProducer, webhookProducer)

	inventory, err := service.NewInventoryAdjuster(db, cfg.Business.InventoryMode)
	if err != nil {
		logger.Fatal("Invalid inventory configuration", zap.Error(err))
	}
	if inventory.Mode() == service.InventoryModeFallback {
		logger.Warn("Inventory runs in read-modify-write mode; concurrent stock updates can be lost")
	}

	ledgerService := service.NewLedgerService(db, calculator, eventPublisher)
	checkoutService := service.NewCheckoutService(db)
	cartService := service.NewCartService(db, db)
	saga := service.NewCheckoutSaga(db, inventory, ledgerService)
	paymentService := service.NewPaymentService(db, checkoutService, gw, saga, redisClient, cartService, eventPublisher, cfg.Business.PaymentLockTTL)
	orderService := service.NewOrderService(db, inventory, ledgerService, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var webhookWorker *worker.PaymentWebhookWorker
	if cfg.Kafka.WebhookConsumer {
		deadLetter := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicDeadLetter)
		defer deadLetter.Close()

		policy := broker.DefaultRetryPolicy
		policy.MaxRetries = uint64(cfg.Kafka.HandlerMaxRetries)
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicWebhooks, cfg.Kafka.ConsumerGroup).
			WithRetryPolicy(policy).
			WithDeadLetter(deadLetter)
		webhookWorker = worker.NewPaymentWebhookWorker(consumer, db, ledgerService)
		go func() {
			if err := webhookWorker.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				logger.Error("Payment webhook worker stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Checkout:      checkoutService,
		Payments:      paymentService,
		Orders:        orderService,
		Cart:          cartService,
		Relay:         eventPublisher,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Checks: map[string]api.Pinger{
			"postgres": db,
			"redis":    redisClient,
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if webhookWorker != nil {
		if err := webhookWorker.Stop(); err != nil {
			logger.Warn("Error stopping webhook worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
