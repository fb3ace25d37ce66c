package queue

import "context"

// Publisher publishes batch lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event BatchFinishedEvent) error
	Close() error
}

const (
	// EventsExchange is the topic exchange carrying upload lifecycle events.
	EventsExchange = "upload.events"
	// BatchFinishedRoutingKey routes events for batches whose items are all terminal.
	BatchFinishedRoutingKey = "batch.finished"
	// BatchFinishedQueue is the durable queue bound to batch.finished.
	BatchFinishedQueue = "upload.batch.finished"
)
