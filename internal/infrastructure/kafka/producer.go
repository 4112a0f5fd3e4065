package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/checkout-saga/internal/domain"
	"github.com/example/checkout-saga/internal/domain/order"
	"github.com/segmentio/kafka-go"
)

const EventTypeHeader = "event_type"

// Producer publishes order events. Messages are keyed by order id and
// partitioned by key hash, so one order's events stay in order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

// Publish writes event keyed by key, which callers set to the order id.
// Order events also carry their type in an "event_type" header so
// consumers can skip events they do not handle without decoding them.
func (p *Producer) Publish(ctx context.Context, key string, event any) error {
	msg, err := buildMessage(key, event)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msg)
}

func buildMessage(key string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if e, ok := event.(order.Event); ok {
		msg.Headers = append(msg.Headers, kafka.Header{Key: EventTypeHeader, Value: []byte(e.EventType)})
	}
	return msg, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

var _ domain.EventPublisher = (*Producer)(nil)
