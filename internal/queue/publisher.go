package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher emits batch events with publisher confirms, so Publish
// only returns nil once the broker has taken responsibility for the message.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event BatchFinishedEvent) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid batch finished event: %w", err)
	}

	publishing, err := batchFinishedPublishing(event)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, EventsExchange, BatchFinishedRoutingKey, false, false, publishing)
	if err != nil {
		return fmt.Errorf("failed to publish batch %s to %q: %w", event.BatchID, EventsExchange, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for broker confirm of batch %s: %w", event.BatchID, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked batch finished event for batch %s", event.BatchID)
	}

	return nil
}

func batchFinishedPublishing(event BatchFinishedEvent) (amqp.Publishing, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal batch finished event: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     event.BatchID,
		CorrelationId: event.CorrelationID,
		Type:          BatchFinishedRoutingKey,
		Headers: amqp.Table{
			"collection": event.CollectionName,
			"outcome":    string(event.Outcome),
			"failed":     int32(len(event.FailedIndices)),
		},
		Body: payload,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
