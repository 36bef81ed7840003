package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"storybook-server/shared/models"
)

// RabbitMQPublisher publishes JSON payloads to the single queue it was bound to
// at construction time. The typed Publish* methods all write to that queue; use
// the matching constructor for each queue.
type RabbitMQPublisher struct {
	channel   *amqp.Channel
	queueName string
	mu        sync.Mutex
}

// NewCoverTaskPublisher opens a channel and binds a publisher to the cover task
// queue. The queue is declared here as well so the system tolerates any service
// start order; parameters must match the consumer side.
func NewCoverTaskPublisher(conn *amqp.Connection) (*RabbitMQPublisher, error) {
	return newQueuePublisher(conn, CoverTaskQueue, true)
}

// NewPageTaskPublisher binds a publisher to the page task queue.
func NewPageTaskPublisher(conn *amqp.Connection) (*RabbitMQPublisher, error) {
	return newQueuePublisher(conn, PageTaskQueue, true)
}

// NewClientUpdatePublisher binds a publisher to the client update queue.
func NewClientUpdatePublisher(conn *amqp.Connection) (*RabbitMQPublisher, error) {
	return newQueuePublisher(conn, ClientUpdateQueue, false)
}

// NewPushNotificationPublisher binds a publisher to the push notification queue.
func NewPushNotificationPublisher(conn *amqp.Connection) (*RabbitMQPublisher, error) {
	return newQueuePublisher(conn, PushNotificationQueue, false)
}

func newQueuePublisher(conn *amqp.Connection, queueName string, withDLX bool) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("publisher %s: failed to open channel: %w", queueName, err)
	}

	var args amqp.Table
	if withDLX {
		if err := EnsureTaskDeadLetterTopology(ch); err != nil {
			ch.Close()
			return nil, fmt.Errorf("publisher %s: %w", queueName, err)
		}
		args = amqp.Table{
			"x-dead-letter-exchange":    TaskDLXName,
			"x-dead-letter-routing-key": TaskDLQRoutingKey,
		}
	}
	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		args,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("publisher %s: failed to declare queue: %w", queueName, err)
	}

	return &RabbitMQPublisher{channel: ch, queueName: queueName}, nil
}

// PublishCoverTask enqueues the cover generation job.
func (p *RabbitMQPublisher) PublishCoverTask(ctx context.Context, payload CoverGenerationTaskPayload) error {
	return p.publish(ctx, payload, payload.TaskID)
}

// PublishPageTask enqueues one page generation job.
func (p *RabbitMQPublisher) PublishPageTask(ctx context.Context, payload PageGenerationTaskPayload) error {
	return p.publish(ctx, payload, payload.TaskID)
}

// PublishClientUpdate enqueues a progress update for the websocket service.
func (p *RabbitMQPublisher) PublishClientUpdate(ctx context.Context, payload models.ClientStoryUpdate) error {
	return p.publish(ctx, payload, payload.StoryID.String())
}

// PublishPushNotification enqueues a push request for the notification service.
func (p *RabbitMQPublisher) PublishPushNotification(ctx context.Context, payload models.PushNotificationPayload) error {
	return p.publish(ctx, payload, payload.StoryID.String())
}

func (p *RabbitMQPublisher) publish(ctx context.Context, payload interface{}, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return fmt.Errorf("publisher %s: channel is closed", p.queueName)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publisher %s: failed to marshal payload: %w", p.queueName, err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",          // default exchange, routed by queue name
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			AppId:        "storybook-server",
		},
	)
	if err != nil {
		return fmt.Errorf("publisher %s: failed to publish message: %w", p.queueName, err)
	}
	return nil
}

// Close releases the underlying channel.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		err := p.channel.Close()
		p.channel = nil
		return err
	}
	return nil
}
