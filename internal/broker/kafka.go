package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"equipment-booking/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the subset of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer MessageWriter
	logger *zap.Logger
}

// producerBatchTimeout bounds how long a synchronous write waits for more
// messages to fill a batch. kafka-go waits a full second when it is unset.
const producerBatchTimeout = 5 * time.Millisecond

// NewProducer creates a Kafka producer. Messages are routed to partitions by
// key hash so all events of one aggregate stay in order.
func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           producerBatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer)
}

// NewProducerWithWriter wraps an existing writer. The writer must not have a
// fixed Topic since every message names its own.
func NewProducerWithWriter(writer MessageWriter) *Producer {
	return &Producer{writer: writer, logger: util.GetLogger()}
}

// Publish writes one message to topic.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published message", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// PublishBatch writes msgs in a single call and returns how many of them,
// counted from the front, are known to be delivered. A message after the
// first failure may have been written too; callers relaying in order must
// send it again.
func (p *Producer) PublishBatch(ctx context.Context, msgs []kafka.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	err := p.writer.WriteMessages(ctx, msgs...)
	if err == nil {
		p.logger.Debug("Published batch", zap.Int("messages", len(msgs)))
		return len(msgs), nil
	}

	delivered := 0
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for delivered < len(werrs) && werrs[delivered] == nil {
			delivered++
		}
	}
	return delivered, fmt.Errorf("failed to write batch to kafka: %w", err)
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer represents a Kafka consumer group member for one topic
type Consumer struct {
	reader MessageReader
	topic  string
}

// NewConsumer creates a new Kafka consumer. Commits are synchronous so an
// offset is only recorded once the handler has finished with it.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})

	return NewConsumerWithReader(reader, topic)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(reader MessageReader, topic string) *Consumer {
	return &Consumer{reader: reader, topic: topic}
}

// Topic returns the consumed topic
func (c *Consumer) Topic() string {
	return c.topic
}

// Fetch reads the next message without committing it
func (c *Consumer) Fetch(ctx context.Context) (kafka.Message, error) {
	return c.reader.FetchMessage(ctx)
}

// Commit commits a message
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	return c.reader.CommitMessages(ctx, msg)
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error
