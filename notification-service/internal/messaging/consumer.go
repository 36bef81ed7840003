package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storybook-server/shared/messaging"
	"storybook-server/shared/models"
)

// NotificationSender delivers one push request to all devices of a user.
// Defined here rather than in the sender package to avoid an import cycle.
type NotificationSender interface {
	SendNotification(ctx context.Context, payload models.PushNotificationPayload) error
}

// Consumer runs a pool of workers draining the push notification queue.
type Consumer struct {
	conn        *amqp.Connection
	logger      *zap.Logger
	concurrency int
	processor   *Processor
	stopChannel chan struct{}
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
}

func NewConsumer(conn *amqp.Connection, concurrency int, processor *Processor, logger *zap.Logger) *Consumer {
	return &Consumer{
		conn:        conn,
		logger:      logger.Named("consumer"),
		concurrency: concurrency,
		processor:   processor,
		stopChannel: make(chan struct{}),
	}
}

// Start blocks until Stop is called or the channel closes.
func (c *Consumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		messaging.PushNotificationQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", messaging.PushNotificationQueue, err)
	}

	if err := ch.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"notification-consumer",
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started, waiting for messages...", zap.Int("concurrency", c.concurrency))

	c.wg.Add(c.concurrency)
	for i := 0; i < c.concurrency; i++ {
		go func(workerID int) {
			defer c.wg.Done()
			log := c.logger.With(zap.Int("worker_id", workerID))
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.stopChannel:
					return
				case d, ok := <-msgs:
					if !ok {
						log.Warn("Message channel closed, worker exiting")
						return
					}
					c.processor.ProcessMessage(ctx, d)
				}
			}
		}(i)
	}

	<-c.stopChannel
	c.cancelFunc()
	c.wg.Wait()
	c.logger.Info("All consumer workers stopped")
	return nil
}

func (c *Consumer) Stop() {
	c.logger.Info("Stopping consumer...")
	close(c.stopChannel)
}

// Processor handles one delivery at a time.
type Processor struct {
	logger *zap.Logger
	sender NotificationSender
}

func NewProcessor(sender NotificationSender, logger *zap.Logger) *Processor {
	return &Processor{
		logger: logger.Named("processor"),
		sender: sender,
	}
}

// ProcessMessage acks or nacks the delivery itself. A malformed body is
// dropped; a send failure is dropped too, the push is best effort and the
// story record already carries the state the push announces.
func (p *Processor) ProcessMessage(ctx context.Context, d amqp.Delivery) {
	var payload models.PushNotificationPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		p.logger.Error("Failed to unmarshal push payload",
			zap.Error(err),
			zap.Uint64("delivery_tag", d.DeliveryTag))
		if nackErr := d.Nack(false, false); nackErr != nil {
			p.logger.Error("Failed to nack message", zap.Error(nackErr))
		}
		return
	}

	processCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := p.sender.SendNotification(processCtx, payload); err != nil {
		p.logger.Error("Failed to deliver push notification",
			zap.Error(err),
			zap.String("user_id", payload.UserID.String()),
			zap.Uint64("delivery_tag", d.DeliveryTag))
		if nackErr := d.Nack(false, false); nackErr != nil {
			p.logger.Error("Failed to nack message", zap.Error(nackErr))
		}
		return
	}

	if ackErr := d.Ack(false); ackErr != nil {
		p.logger.Error("Failed to ack message", zap.Error(ackErr), zap.Uint64("delivery_tag", d.DeliveryTag))
	}
}
