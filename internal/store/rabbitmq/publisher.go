// Package rabbitmq publishes order events to a durable RabbitMQ queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

// EventOrderPlaced is the type header of order placement events.
const EventOrderPlaced = "order.placed"

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends events to one queue through the default exchange.
type Publisher struct {
	conn  *amqp.Connection
	ch    channel
	queue string
}

// OrderEvent is the JSON body of an order.placed message.
type OrderEvent struct {
	Event       string             `json:"event"`
	OrderID     string             `json:"order_id"`
	PhoneNumber string             `json:"phone_number"`
	Total       int64              `json:"total_cents"`
	Items       []models.OrderItem `json:"items"`
	Address     string             `json:"address,omitempty"`
	PlacedAt    time.Time          `json:"placed_at"`
}

// NewPublisher dials url and declares queue (durable) plus its ".dlq"
// dead-letter companion.
func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	dlq := queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", dlq, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare %s: %w", queue, err)
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishOrderPlaced sends an order.placed event for o.
func (p *Publisher) PublishOrderPlaced(ctx context.Context, o models.Order) error {
	body, err := json.Marshal(OrderEvent{
		Event:       EventOrderPlaced,
		OrderID:     o.ID,
		PhoneNumber: o.PhoneNumber,
		Total:       o.Total,
		Items:       o.Items,
		Address:     o.Address,
		PlacedAt:    o.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode order event: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.ch.PublishWithContext(cctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         EventOrderPlaced,
		MessageId:    o.ID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", o.ID, err)
	}
	return nil
}
