package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/ollama/ollama/api"
	"github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storybook-server/migrations"
	"storybook-server/orchestrator/internal/config"
	"storybook-server/orchestrator/internal/handler"
	"storybook-server/orchestrator/internal/service"
	"storybook-server/pkg/migration"
	"storybook-server/shared/authutils"
	"storybook-server/shared/database"
	"storybook-server/shared/fallback"
	sharedLogger "storybook-server/shared/logger"
	"storybook-server/shared/messaging"
	sharedMiddleware "storybook-server/shared/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := sharedLogger.New(cfg.Logger)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	zap.L().Info("Starting Story Orchestrator...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// --- External connections ---
	pgPool, err := database.NewPgxPool(ctx, cfg.GetDSN(), int32(cfg.DBMaxConns))
	if err != nil {
		zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pgPool.Close()
	zap.L().Info("Connected to PostgreSQL")

	migrator := migration.NewMigrator(migration.Config{
		MigrationsPath: ".",
		MigrationsFS:   migrations.FS,
	}, pgPool)
	if err := migrator.Up(ctx); err != nil {
		zap.L().Fatal("Failed to apply database migrations", zap.Error(err))
	}
	zap.L().Info("Database migrations applied")

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
	}
	zap.L().Info("Connected to Redis")

	mqConn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
	}
	defer mqConn.Close()
	zap.L().Info("Connected to RabbitMQ")

	// --- Dependency injection ---
	storyStore := database.NewPgStoryStore(pgPool, logger)
	profileRepo := database.NewPgCharacterProfileRepository(pgPool, logger)
	storyCache := database.NewRedisStoryCache(redisClient, cfg.StoryCacheTTL, logger)

	coverPublisher, err := messaging.NewCoverTaskPublisher(mqConn)
	if err != nil {
		zap.L().Fatal("Failed to create cover task publisher", zap.Error(err))
	}
	defer coverPublisher.Close()

	textClient, err := buildTextClient(cfg, logger)
	if err != nil {
		zap.L().Fatal("Failed to initialize text client", zap.Error(err))
	}

	executor := &fallback.Executor{
		MaxAttempts: cfg.AIMaxAttempts,
		BaseDelay:   cfg.AIBaseRetryDelay,
	}
	resolver := fallback.NewResolver(executor, logger)

	orchestrator := service.NewOrchestrator(
		textClient,
		resolver,
		storyStore,
		profileRepo,
		coverPublisher,
		storyCache,
		service.GenerationDefaults{
			TextModels:       cfg.DefaultTextModels,
			CoverImageModels: cfg.DefaultCoverModels,
			PageImageModels:  cfg.DefaultPageModels,
			ArtStyles:        cfg.DefaultArtStyles,
			PageCount:        cfg.DefaultStoryPageCount,
		},
		logger,
	)

	verifier, err := authutils.NewJWTVerifier(cfg.JWTSecret, logger)
	if err != nil {
		zap.L().Fatal("Failed to initialize JWT verifier", zap.Error(err))
	}
	storyHandler := handler.NewStoryHandler(orchestrator, logger)

	// --- HTTP server (Gin) ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(sharedMiddleware.ZapLoggingMiddlewareForGin(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	authGroup := router.Group("/api")
	authGroup.Use(sharedMiddleware.GinAuthMiddleware(verifier.VerifyToken, logger))
	storyHandler.RegisterRoutes(authGroup)

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	zap.L().Info("Server exiting")
}

// buildTextClient wires the OpenAI-compatible gateway client and, when an
// Ollama host is configured, a local client behind the "ollama/" model prefix.
func buildTextClient(cfg *config.Config, logger *zap.Logger) (service.TextModelClient, error) {
	remote := service.NewOpenAITextClient(cfg.AIAPIKey, cfg.AIBaseURL, cfg.AITimeout, cfg.AIMaxTokens, logger)
	if cfg.OllamaURL == "" {
		return remote, nil
	}

	parsedURL, err := url.Parse(cfg.OllamaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Ollama URL %q: %w", cfg.OllamaURL, err)
	}
	httpClient := &http.Client{Timeout: cfg.AITimeout}
	local := service.NewOllamaTextClient(api.NewClient(parsedURL, httpClient), logger)
	return service.NewRoutingTextClient(remote, local), nil
}

// connectRabbitMQ dials the broker with retries so the service survives the
// broker coming up after it in docker compose.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp091.Connection, error) {
	var conn *amqp091.Connection
	var err error
	maxRetries := 50
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp091.Dial(url)
		if err == nil {
			go func() {
				notifyClose := make(chan *amqp091.Error)
				conn.NotifyClose(notifyClose)
				if closeErr := <-notifyClose; closeErr != nil {
					logger.Error("RabbitMQ connection closed unexpectedly", zap.Error(closeErr))
				}
			}()
			return conn, nil
		}
		logger.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}
