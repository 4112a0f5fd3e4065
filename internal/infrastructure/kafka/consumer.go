package kafka

import (
	"context"
	"log"

	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	reader     *kafka.Reader
	eventTypes map[string]bool
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader}
}

// WithEventTypes limits the handler to messages whose event_type header is
// one of types. Messages without the header are always handled.
func (c *Consumer) WithEventTypes(types ...string) *Consumer {
	c.eventTypes = make(map[string]bool, len(types))
	for _, t := range types {
		c.eventTypes[t] = true
	}
	return c
}

func (c *Consumer) wants(msg kafka.Message) bool {
	if len(c.eventTypes) == 0 {
		return true
	}
	for _, h := range msg.Headers {
		if h.Key == EventTypeHeader {
			return c.eventTypes[string(h.Value)]
		}
	}
	return true
}

// Consume hands each message to handler and commits its offset afterwards,
// so a crash mid-message redelivers it. Handler errors are logged and the
// message is committed anyway; handlers own their retries.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Kafka] Error reading message: %v", err)
			continue
		}

		if c.wants(msg) {
			if err := handler(ctx, msg.Key, msg.Value); err != nil {
				log.Printf("[Kafka] Error handling message at offset %d: %v", msg.Offset, err)
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("[Kafka] Error committing offset %d: %v", msg.Offset, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
