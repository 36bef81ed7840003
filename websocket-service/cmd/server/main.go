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

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	zerologlog "github.com/rs/zerolog/log"

	"storybook-server/shared/authutils"
	sharedLogger "storybook-server/shared/logger"
	"storybook-server/websocket-service/internal/config"
	"storybook-server/websocket-service/internal/handler"
	"storybook-server/websocket-service/internal/messaging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerologlog.Level(level).With().Str("service", "websocket").Logger()
	logger.Info().Msg("Starting WebSocket service...")

	// The shared JWT verifier logs through zap.
	zapLogger, err := sharedLogger.New(sharedLogger.Config{Level: cfg.LogLevel, Encoding: "json"})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize zap logger")
	}
	defer zapLogger.Sync()

	verifier, err := authutils.NewJWTVerifier(cfg.JWTSecret, zapLogger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize JWT verifier")
	}

	rabbitConn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
	}
	defer rabbitConn.Close()
	logger.Info().Msg("Connected to RabbitMQ")

	connManager := handler.NewConnectionManager(logger)
	wsHandler := handler.NewWebSocketHandler(connManager, verifier, logger)

	consumer := messaging.NewConsumer(rabbitConn, connManager, logger)
	go func() {
		if err := consumer.StartConsuming(); err != nil {
			logger.Error().Err(err).Msg("Consumer stopped with error")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("WebSocket server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("Shutting down WebSocket service...")

	consumer.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server forced to shutdown")
	}

	logger.Info().Msg("WebSocket service stopped")
}

func connectRabbitMQ(url string, logger zerolog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 50
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn().
			Err(err).
			Int("attempt", i+1).
			Dur("delay", retryDelay).
			Msg("RabbitMQ connection failed, retrying...")
		time.Sleep(retryDelay)
	}
	return nil, err
}
