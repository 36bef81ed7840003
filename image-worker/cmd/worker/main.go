package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"storybook-server/image-worker/internal/config"
	"storybook-server/image-worker/internal/provider"
	"storybook-server/image-worker/internal/service"
	"storybook-server/image-worker/internal/worker"
	"storybook-server/shared/blob"
	"storybook-server/shared/database"
	"storybook-server/shared/fallback"
	"storybook-server/shared/interfaces"
	"storybook-server/shared/logger"
	"storybook-server/shared/messaging"
)

const (
	maxReconnectAttempts = 5
	reconnectDelay       = 5 * time.Second
)

// deliveryHandler is what both worker handlers expose to the consume loop.
type deliveryHandler interface {
	HandleDelivery(ctx context.Context, msg amqp091.Delivery) bool
}

func main() {
	cfg := config.Load()

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info("Starting Image Worker...", zap.String("env", cfg.AppEnv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database.
	pool, err := database.NewPgxPool(ctx, cfg.DatabaseDSN, int32(cfg.DBMaxConns))
	if err != nil {
		appLogger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()
	store := database.NewPgStoryStore(pool, appLogger)
	appLogger.Info("PostgreSQL connection pool initialized")

	// Blob storage for generated images.
	blobStore, err := blob.NewFilesystemStore(cfg.ImageSavePath, cfg.ImagePublicBaseURL, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize image store", zap.Error(err))
	}

	// Image providers and the fallback machinery over them.
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		appLogger.Fatal("Failed to initialize Gemini client", zap.Error(err))
	}

	geminiProvider := provider.NewGeminiImageClient(genaiClient, appLogger)
	openaiProvider := provider.NewOpenAIImageClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ImageTimeout, appLogger)
	registry := provider.NewRegistry(geminiProvider, openaiProvider)

	executor := &fallback.Executor{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseRetryDelay,
	}
	resolver := fallback.NewResolver(executor, appLogger)
	generator := service.NewAssetGenerator(registry, resolver, blobStore, appLogger)
	appLogger.Info("Asset generator initialized",
		zap.Int("max_attempts", cfg.MaxAttempts),
		zap.Duration("base_retry_delay", cfg.BaseRetryDelay))

	// RabbitMQ connection with reconnect handling.
	mqCtx, mqCancel := context.WithCancel(ctx)
	defer mqCancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		manageRabbitMQ(mqCtx, appLogger, cfg, store, generator)
		appLogger.Info("RabbitMQ connection manager exited")
	}()

	appLogger.Info("Image Worker started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down Image Worker...")
	mqCancel()
	wg.Wait()
	appLogger.Info("Image Worker shut down gracefully")
}

// manageRabbitMQ dials the broker, wires publishers and both consumers on the
// live connection, and redials from scratch when the connection drops. All
// channels hang off the one connection, so a drop invalidates everything and a
// full rebuild is the simplest correct recovery.
func manageRabbitMQ(ctx context.Context, logger *zap.Logger, cfg *config.Config, store interfaces.StoryStore, generator worker.AssetGenerating) {
	for {
		conn := dialWithRetry(ctx, logger, cfg.RabbitMQ.URL)
		if conn == nil {
			return
		}

		connCtx, connCancel := context.WithCancel(ctx)
		if err := runConsumers(connCtx, logger, cfg, conn, store, generator); err != nil {
			logger.Error("Failed to start consumers", zap.Error(err))
			conn.Close()
			connCancel()
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		notifyClose := make(chan *amqp091.Error, 1)
		conn.NotifyClose(notifyClose)

		select {
		case closeErr := <-notifyClose:
			logger.Warn("RabbitMQ connection closed, reconnecting", zap.Error(closeErr))
			connCancel()
		case <-ctx.Done():
			logger.Info("Context cancelled, closing RabbitMQ connection")
			connCancel()
			conn.Close()
			return
		}
	}
}

func dialWithRetry(ctx context.Context, logger *zap.Logger, url string) *amqp091.Connection {
	for attempt := 1; ; attempt++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			logger.Info("RabbitMQ connected successfully")
			return conn
		}

		logger.Error("Failed to connect to RabbitMQ", zap.Int("attempt", attempt), zap.Error(err))
		if attempt >= maxReconnectAttempts {
			logger.Fatal("Max reconnect attempts reached, shutting down")
			return nil
		}

		select {
		case <-time.After(reconnectDelay):
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping RabbitMQ connection attempts")
			return nil
		}
	}
}

// runConsumers builds the publishers and handlers on the given connection and
// starts one consume loop per task queue.
func runConsumers(ctx context.Context, logger *zap.Logger, cfg *config.Config, conn *amqp091.Connection, store interfaces.StoryStore, generator worker.AssetGenerating) error {
	pagePublisher, err := messaging.NewPageTaskPublisher(conn)
	if err != nil {
		return err
	}
	updatePublisher, err := messaging.NewClientUpdatePublisher(conn)
	if err != nil {
		return err
	}
	pushPublisher, err := messaging.NewPushNotificationPublisher(conn)
	if err != nil {
		return err
	}

	pusher := worker.NewPusher(cfg.PushGatewayURL, logger)
	coverHandler := worker.NewCoverHandler(generator, store, pagePublisher, updatePublisher, pushPublisher, pusher, logger)
	pageHandler := worker.NewPageHandler(generator, store, updatePublisher, pushPublisher, pusher, logger)

	go consumeQueue(ctx, logger, cfg.RabbitMQ, conn, messaging.CoverTaskQueue, coverHandler)
	go consumeQueue(ctx, logger, cfg.RabbitMQ, conn, messaging.PageTaskQueue, pageHandler)
	return nil
}

// consumeQueue runs the manual-ack consume loop for one queue until the
// context is cancelled or the channel closes.
func consumeQueue(ctx context.Context, logger *zap.Logger, cfg config.RabbitMQConfig, conn *amqp091.Connection, queueName string, handler deliveryHandler) {
	log := logger.With(zap.String("queue", queueName))

	ch, err := conn.Channel()
	if err != nil {
		log.Error("Failed to open RabbitMQ channel for consumer", zap.Error(err))
		return
	}
	defer ch.Close()

	if err := messaging.EnsureTaskDeadLetterTopology(ch); err != nil {
		log.Error("Failed to declare dead-letter topology", zap.Error(err))
		return
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp091.Table{
			"x-dead-letter-exchange":    messaging.TaskDLXName,
			"x-dead-letter-routing-key": messaging.TaskDLQRoutingKey,
		},
	)
	if err != nil {
		log.Error("Failed to declare task queue", zap.Error(err))
		return
	}
	log.Info("Task queue declared", zap.Int("messages", q.Messages), zap.Int("consumers", q.Consumers))

	if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
		log.Error("Failed to set QoS", zap.Error(err))
		return
	}

	msgs, err := ch.Consume(
		q.Name,
		cfg.ConsumerName+"."+queueName,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		log.Error("Failed to register consumer", zap.Error(err))
		return
	}

	log.Info("Consumer started, waiting for messages...")

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				log.Warn("Consumer channel closed by RabbitMQ")
				return
			}
			log.Debug("Received a message", zap.Uint64("delivery_tag", msg.DeliveryTag))
			if handler.HandleDelivery(ctx, msg) {
				if ackErr := msg.Ack(false); ackErr != nil {
					log.Error("Failed to ack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(ackErr))
				}
			} else {
				if nackErr := msg.Nack(false, true); nackErr != nil {
					log.Error("Failed to nack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(nackErr))
				}
			}
		case <-ctx.Done():
			log.Info("Context cancelled, stopping consumer...")
			return
		}
	}
}
