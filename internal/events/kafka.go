package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// TypeMessageCreated names the exported event.
const TypeMessageCreated = "message.created"

// MessageCreated is the payload exported for downstream consumers
// (notifications, analytics).
type MessageCreated struct {
	Type       string       `json:"type"`
	Message    chat.Message `json:"message"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// Writer is the subset of kafka.Writer used by KafkaPublisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher exports message.created events to a Kafka topic.
type KafkaPublisher struct {
	writer Writer
}

// NewKafkaPublisher writes synchronously to topic on brokers. Callers are
// expected to bound each publish with a context deadline.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        false,
		MaxAttempts:  3,
		WriteTimeout: 2 * time.Second,
	}
	return &KafkaPublisher{writer: w}
}

// NewKafkaPublisherWithWriter is used by tests.
func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// PublishMessageCreated keys the record by conversation so that one
// conversation's events stay ordered within a partition.
func (p *KafkaPublisher) PublishMessageCreated(ctx context.Context, m chat.Message) error {
	payload, err := json.Marshal(MessageCreated{
		Type:       TypeMessageCreated,
		Message:    m,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(m.Pair().Key()),
		Value: payload,
		Time:  m.CreatedAt,
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
