package config

import (
	"fmt"
	"log"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"storybook-server/shared/logger"
)

// Config holds the notification service settings.
type Config struct {
	Logger logger.Config

	RabbitMQURI       string `env:"RABBITMQ_URI" env-required:"true"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY" env-default:"10"`
	HealthCheckPort   string `env:"HEALTH_CHECK_PORT" env-default:"8088"`

	// Device tokens are read from the shared database.
	DatabaseDSN string `env:"DATABASE_DSN" env-required:"true"`
	DBMaxConns  int    `env:"DB_MAX_CONNECTIONS" env-default:"5"`

	FCM  FCMConfig
	APNS APNSConfig
}

// FCMConfig configures the Firebase sender. An empty credentials path disables it.
type FCMConfig struct {
	CredentialsPath string `env:"FCM_CREDENTIALS_PATH"`
}

// APNSConfig configures the Apple sender. All fields are required for it to be
// enabled; anything missing disables it.
type APNSConfig struct {
	KeyID      string `env:"APNS_KEY_ID"`
	TeamID     string `env:"APNS_TEAM_ID"`
	KeyPath    string `env:"APNS_KEY_PATH"`
	Topic      string `env:"APNS_TOPIC"`
	Production bool   `env:"APNS_PRODUCTION" env-default:"false"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log.Printf("Configuration loaded. Worker concurrency: %d, FCM configured: %v, APNS configured: %v",
		cfg.WorkerConcurrency, cfg.FCM.CredentialsPath != "", cfg.APNS.KeyPath != "")

	return &cfg, nil
}
