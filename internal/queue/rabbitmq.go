package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second
)

// RabbitMQ owns the broker connection used for upload events. The connection
// is redialed with exponential backoff when it drops and the topology is
// declared once per connection.
type RabbitMQ struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	declared bool
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = false
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// Ping reports whether the broker connection is currently open.
func (r *RabbitMQ) Ping() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		r.dropConnection(conn)
		if conn, err = r.connection(ctx); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after reconnect: %w", err)
		}
	}

	if err := r.ensureTopology(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	wait := reconnectBackoff
	for {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.conn = conn
			r.declared = false
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq connect canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxBackoff {
			wait = maxBackoff
		}
	}
}

func (r *RabbitMQ) dropConnection(conn *amqp.Connection) {
	r.mu.Lock()
	if r.conn == conn {
		r.conn = nil
		r.declared = false
	}
	r.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}
}

func (r *RabbitMQ) ensureTopology(ch *amqp.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.declared {
		return nil
	}
	if err := declareTopology(ch); err != nil {
		return err
	}
	r.declared = true
	return nil
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", EventsExchange, err)
	}

	if _, err := ch.QueueDeclare(BatchFinishedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", BatchFinishedQueue, err)
	}

	if err := ch.QueueBind(BatchFinishedQueue, BatchFinishedRoutingKey, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", BatchFinishedQueue, err)
	}

	return nil
}
