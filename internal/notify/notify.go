// Package notify tells the shop admin about a newly placed order.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const EventOrderPlaced = "order_placed"

type Notifier interface {
	NotifyOrder(ctx context.Context, orderID string, total decimal.Decimal) error
}

// Sender is the backend call that relays the notification to the admin.
type Sender interface {
	SendNotification(ctx context.Context, orderNumber string, total decimal.Decimal) error
}

// HTTPNotifier posts through the storefront backend. Each call makes a
// single attempt; callers apply their own retry policy.
type HTTPNotifier struct {
	sender Sender
}

func NewHTTPNotifier(sender Sender) *HTTPNotifier {
	return &HTTPNotifier{sender: sender}
}

func (n *HTTPNotifier) NotifyOrder(ctx context.Context, orderID string, total decimal.Decimal) error {
	return n.sender.SendNotification(ctx, orderID, total)
}

// MessageWriter is the subset of *kafka.Writer the notifier uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OrderPlaced struct {
	OrderNumber string    `json:"orderNumber"`
	Total       string    `json:"total"`
	PlacedAt    time.Time `json:"placed_at"`
}

// KafkaNotifier publishes an order_placed event keyed by order id, so
// events of one order stay ordered within a partition.
type KafkaNotifier struct {
	writer MessageWriter
	now    func() time.Time
}

func NewKafkaNotifier(topic string, brokers ...string) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return NewKafkaNotifierWithWriter(w)
}

func NewKafkaNotifierWithWriter(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: w, now: time.Now}
}

func (n *KafkaNotifier) NotifyOrder(ctx context.Context, orderID string, total decimal.Decimal) error {
	payload, err := json.Marshal(OrderPlaced{
		OrderNumber: orderID,
		Total:       total.StringFixed(2),
		PlacedAt:    n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(orderID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventOrderPlaced)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
