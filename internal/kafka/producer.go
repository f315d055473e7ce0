package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/RaikyD/cardpay-service/internal/domain"
)

// StatusEvent is published on every applied order status change.
type StatusEvent struct {
	OrderID   string        `json:"order_id"`
	Status    domain.Status `json:"status"`
	Reference string        `json:"reference,omitempty"`
	At        time.Time     `json:"at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w messageWriter
}

func NewProducer(brokersSTR, topic string) *Producer {
	brokers := strings.Split(brokersSTR, ",")

	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
		},
	}
}

func (p *Producer) Close() error {
	return p.w.Close()
}

// OrderStatusChanged publishes the change keyed by order id, so every
// event for one order lands on the same partition in order.
func (p *Producer) OrderStatusChanged(ctx context.Context, o domain.Order) error {
	b, err := json.Marshal(StatusEvent{
		OrderID:   o.ID.String(),
		Status:    o.Status,
		Reference: o.ProviderReference,
		At:        o.LastTransitionAt,
	})
	if err != nil {
		return err
	}

	return p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.ID.String()),
		Value: b,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
}
