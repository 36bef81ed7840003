package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/notification-service/internal/config"
	"storybook-server/notification-service/internal/messaging"
	"storybook-server/notification-service/internal/sender"
	"storybook-server/shared/database"
	sharedLogger "storybook-server/shared/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := sharedLogger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Starting Notification Service...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPgxPool(ctx, cfg.DatabaseDSN, int32(cfg.DBMaxConns))
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()
	tokenRepo := database.NewPgDeviceTokenRepository(pool, logger)

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURI, logger)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer rabbitConn.Close()
	logger.Info("Connected to RabbitMQ")

	fcmSender, err := sender.NewFCMSender(cfg.FCM, logger)
	if err != nil {
		logger.Fatal("Failed to initialize FCM sender", zap.Error(err))
	}
	apnsSender, err := sender.NewApnsSender(cfg.APNS, logger)
	if err != nil {
		logger.Fatal("Failed to initialize APNS sender", zap.Error(err))
	}

	dispatcher := sender.NewDispatcher(tokenRepo, fcmSender, apnsSender, logger)
	processor := messaging.NewProcessor(dispatcher, logger)
	consumer := messaging.NewConsumer(rabbitConn, cfg.WorkerConcurrency, processor, logger)

	healthSrv := startHealthCheckServer(cfg.HealthCheckPort, logger)

	consumerErrChan := make(chan error, 1)
	go func() {
		consumerErrChan <- consumer.Start()
	}()

	logger.Info("Notification Service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	consumerDone := false
	select {
	case <-quit:
		logger.Info("Shutdown signal received")
	case err := <-consumerErrChan:
		consumerDone = true
		if err != nil {
			logger.Error("Consumer stopped with error", zap.Error(err))
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to stop health check server", zap.Error(err))
	}

	if !consumerDone {
		consumer.Stop()
		<-consumerErrChan
	}

	logger.Info("Notification Service shut down gracefully")
}

func startHealthCheckServer(port string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		logger.Info("Starting health check server", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Health check server failed", zap.Error(err))
		}
	}()

	return srv
}

func connectRabbitMQ(uri string, logger *zap.Logger) (*amqp.Connection, error) {
	var connection *amqp.Connection
	var err error
	maxRetries := 50
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		connection, err = amqp.Dial(uri)
		if err == nil {
			go func() {
				notifyClose := make(chan *amqp.Error)
				connection.NotifyClose(notifyClose)
				if closeErr := <-notifyClose; closeErr != nil {
					logger.Error("RabbitMQ connection closed unexpectedly", zap.Error(closeErr))
				}
			}()
			return connection, nil
		}
		logger.Warn("RabbitMQ connection failed, retrying...",
			zap.Error(err),
			zap.Int("retry", i+1),
			zap.Duration("delay", retryDelay),
		)
		time.Sleep(retryDelay)
	}
	return nil, err
}
