package messaging

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
	"storybook-server/websocket-service/internal/handler"
)

// Consumer drains the client update queue and forwards each update to the
// owner's live connections. An offline owner is not an error: updates are a
// convenience on top of polling, so the message is acked either way.
type Consumer struct {
	conn        *amqp.Connection
	manager     *handler.ConnectionManager
	logger      zerolog.Logger
	stopChannel chan struct{}
}

func NewConsumer(conn *amqp.Connection, manager *handler.ConnectionManager, logger zerolog.Logger) *Consumer {
	return &Consumer{
		conn:        conn,
		manager:     manager,
		logger:      logger.With().Str("component", "Consumer").Logger(),
		stopChannel: make(chan struct{}),
	}
}

// StartConsuming blocks until Stop is called or the channel closes.
func (c *Consumer) StartConsuming() error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		messaging.ClientUpdateQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", messaging.ClientUpdateQueue, err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"websocket-service-consumer",
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info().Str("queue", q.Name).Msg("Consumer started, waiting for story updates")

	for {
		select {
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn().Msg("RabbitMQ message channel closed")
				return nil
			}

			var update models.ClientStoryUpdate
			if err := json.Unmarshal(d.Body, &update); err != nil {
				c.logger.Error().Err(err).Msg("Failed to unmarshal story update, dropping")
				_ = d.Nack(false, false)
				continue
			}

			delivered := c.manager.SendToUser(update.UserID.String(), d.Body)
			c.logger.Debug().
				Str("userID", update.UserID.String()).
				Str("storyID", update.StoryID.String()).
				Str("phase", string(update.Phase)).
				Int("connections", delivered).
				Msg("Story update forwarded")
			_ = d.Ack(false)

		case <-c.stopChannel:
			c.logger.Info().Msg("Consumer stop signal received")
			return nil
		}
	}
}

func (c *Consumer) Stop() {
	close(c.stopChannel)
}
