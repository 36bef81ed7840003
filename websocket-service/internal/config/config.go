package config

import (
	"fmt"
	"log"

	"github.com/kelseyhightower/envconfig"

	"storybook-server/shared/utils"
)

// Config holds the websocket service settings.
type Config struct {
	Port        string `envconfig:"PORT" default:"8083"`
	RabbitMQURL string `envconfig:"RABBITMQ_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Loaded from a secrets file, no envconfig tag.
	JWTSecret string
}

// LoadConfig loads settings from environment variables and secret files.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var loadErr error
	cfg.JWTSecret, loadErr = utils.ReadSecret("jwt_secret")
	if loadErr != nil {
		return nil, loadErr
	}

	log.Printf("WebSocket service configuration loaded:")
	log.Printf("  Port: %s", cfg.Port)
	log.Printf("  RabbitMQ URL set: %v", cfg.RabbitMQURL != "")
	log.Println("  JWT Secret: [LOADED]")

	return &cfg, nil
}
