package messaging

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EnsureTaskDeadLetterTopology declares the dead-letter exchange, the
// dead-letter queue, and the binding between them. The task queues name this
// exchange in their x-dead-letter-exchange argument; without the queue and
// binding the broker would discard every dead-lettered message. Declared by
// both publishers and consumers so the system tolerates any start order.
func EnsureTaskDeadLetterTopology(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		TaskDLXName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange %s: %w", TaskDLXName, err)
	}

	_, err = ch.QueueDeclare(
		TaskDLQName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %s: %w", TaskDLQName, err)
	}

	err = ch.QueueBind(TaskDLQName, TaskDLQRoutingKey, TaskDLXName, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind dead-letter queue %s to %s: %w", TaskDLQName, TaskDLXName, err)
	}
	return nil
}
