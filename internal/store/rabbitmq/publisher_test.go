package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/BTreeMap/ShopPipe/internal/models"
)

type recordingChannel struct {
	key  string
	msg  amqp.Publishing
	err  error
	dead bool
}

func (c *recordingChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	c.key = key
	c.msg = msg
	return c.err
}

func (c *recordingChannel) Close() error {
	c.dead = true
	return nil
}

func TestPublishOrderPlaced(t *testing.T) {
	ch := &recordingChannel{}
	p := &Publisher{ch: ch, queue: "shoppipe.orders"}

	order := models.Order{
		ID:          "01HZXORDER",
		PhoneNumber: "5511999990000",
		Total:       500,
		Address:     "Rua das Flores, 123",
		Items:       []models.OrderItem{{ProductID: 1, Name: "Caneta", UnitPrice: 250, Quantity: 2}},
		CreatedAt:   time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := p.PublishOrderPlaced(context.Background(), order); err != nil {
		t.Fatalf("PublishOrderPlaced failed: %v", err)
	}

	if ch.key != "shoppipe.orders" {
		t.Errorf("routing key = %q", ch.key)
	}
	if ch.msg.DeliveryMode != amqp.Persistent || ch.msg.Type != EventOrderPlaced || ch.msg.MessageId != order.ID {
		t.Errorf("unexpected publishing %+v", ch.msg)
	}
	var ev OrderEvent
	if err := json.Unmarshal(ch.msg.Body, &ev); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if ev.OrderID != order.ID || ev.Total != 500 || len(ev.Items) != 1 || ev.Event != EventOrderPlaced {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestPublishOrderPlaced_Error(t *testing.T) {
	p := &Publisher{ch: &recordingChannel{err: errors.New("channel closed")}, queue: "q"}
	if err := p.PublishOrderPlaced(context.Background(), models.Order{ID: "x"}); err == nil {
		t.Error("expected publish error")
	}
}

func TestClose_WithoutConnection(t *testing.T) {
	ch := &recordingChannel{}
	p := &Publisher{ch: ch}
	if err := p.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
	if !ch.dead {
		t.Error("channel not closed")
	}
}
