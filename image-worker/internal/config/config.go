package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"storybook-server/shared/logger"
)

// Config holds the image worker settings.
type Config struct {
	AppEnv string `env:"APP_ENV" env-default:"development"`
	Logger logger.Config

	RabbitMQ RabbitMQConfig

	// Image model credentials and limits.
	GeminiAPIKey   string        `env:"GEMINI_API_KEY" env-required:"true"`
	OpenAIAPIKey   string        `env:"OPENAI_API_KEY" env-default:""`
	OpenAIBaseURL  string        `env:"OPENAI_BASE_URL" env-default:""`
	ImageTimeout   time.Duration `env:"IMAGE_TIMEOUT" env-default:"120s"`
	MaxAttempts    int           `env:"IMAGE_MAX_ATTEMPTS" env-default:"3"`
	BaseRetryDelay time.Duration `env:"IMAGE_BASE_RETRY_DELAY" env-default:"1s"`

	// Asset storage.
	ImageSavePath      string `env:"IMAGE_SAVE_PATH" env-required:"true"`
	ImagePublicBaseURL string `env:"IMAGE_PUBLIC_BASE_URL" env-required:"true"`

	// PostgreSQL (the worker writes results into the story record).
	DatabaseDSN string `env:"DATABASE_DSN" env-required:"true"`
	DBMaxConns  int    `env:"DB_MAX_CONNECTIONS" env-default:"10"`

	PushGatewayURL string `env:"PUSHGATEWAY_URL" env-required:"true"`
}

// RabbitMQConfig holds broker settings for the two task consumers.
type RabbitMQConfig struct {
	URL           string `env:"RABBITMQ_URL" env-required:"true"`
	ConsumerName  string `env:"RABBITMQ_CONSUMER_NAME" env-default:"image_worker"`
	PrefetchCount int    `env:"RABBITMQ_PREFETCH_COUNT" env-default:"1"`
}

// Load reads configuration from environment variables and an optional .env file.
func Load() *Config {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}

	return &cfg
}
