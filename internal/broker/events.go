package broker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"equipment-booking/internal/models"
	"equipment-booking/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Dead-letter headers describing where a message came from.
const (
	HeaderEventID        = "x-event-id"
	HeaderOriginalTopic  = "x-original-topic"
	HeaderOriginalPart   = "x-original-partition"
	HeaderOriginalOffset = "x-original-offset"
	HeaderError          = "x-error"
)

// Topics names the saga topics.
type Topics struct {
	BookingCreated string
	PaymentStatus  string
	BookingStatus  string
	DeadLetter     string
}

// EventPublisher handles publishing saga messages
type EventPublisher struct {
	producer   *Producer
	deadLetter string
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer, deadLetterTopic string) *EventPublisher {
	return &EventPublisher{producer: producer, deadLetter: deadLetterTopic}
}

// PublishOutbox relays stored outbox messages in one write and returns the
// number delivered from the front of msgs.
func (ep *EventPublisher) PublishOutbox(ctx context.Context, msgs []models.OutboxMessage) (int, error) {
	batch := make([]kafka.Message, len(msgs))
	now := time.Now()
	for i, m := range msgs {
		batch[i] = kafka.Message{
			Topic:   m.Topic,
			Key:     []byte(m.Key),
			Value:   m.Payload,
			Headers: []kafka.Header{{Key: HeaderEventID, Value: []byte(m.ID.String())}},
			Time:    now,
		}
	}
	return ep.producer.PublishBatch(ctx, batch)
}

// PublishDeadLetter parks a message that could not be handled. The payload
// is forwarded untouched.
func (ep *EventPublisher) PublishDeadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}

	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPart, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderError, Value: []byte(reason)},
	)

	return ep.producer.Publish(ctx, ep.deadLetter, string(msg.Key), msg.Value, headers...)
}

// EventHandler decodes incoming messages by topic and dispatches them
type EventHandler struct {
	topics           Topics
	onBookingCreated func(context.Context, *models.BookingCreatedEvent) error
	onPaymentStatus  func(context.Context, *models.PaymentStatusEvent) error
	onBookingStatus  func(context.Context, *models.BookingStatusEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler(topics Topics) *EventHandler {
	return &EventHandler{topics: topics, logger: util.GetLogger()}
}

// OnBookingCreated registers a handler for BookingCreated events
func (eh *EventHandler) OnBookingCreated(handler func(context.Context, *models.BookingCreatedEvent) error) {
	eh.onBookingCreated = handler
}

// OnPaymentStatus registers a handler for PaymentStatus events
func (eh *EventHandler) OnPaymentStatus(handler func(context.Context, *models.PaymentStatusEvent) error) {
	eh.onPaymentStatus = handler
}

// OnBookingStatus registers a handler for BookingStatus events
func (eh *EventHandler) OnBookingStatus(handler func(context.Context, *models.BookingStatusEvent) error) {
	eh.onBookingStatus = handler
}

// HandleMessage routes messages to the registered handler for their topic.
// Payloads that fail to decode are reported as *models.MalformedEventError.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	switch msg.Topic {
	case eh.topics.BookingCreated:
		if eh.onBookingCreated == nil {
			break
		}
		event, err := DecodeBookingCreated(msg.Value)
		if err != nil {
			return models.NewMalformedEventError(msg.Topic, msg.Value, err)
		}
		if event.EventType != "" && event.EventType != models.EventTypeBookingCreated {
			return models.NewMalformedEventError(msg.Topic, msg.Value,
				errors.New("unexpected event type "+event.EventType))
		}
		return eh.onBookingCreated(ctx, event)

	case eh.topics.PaymentStatus:
		if eh.onPaymentStatus == nil {
			break
		}
		event, err := DecodePaymentStatus(msg.Value)
		if err != nil {
			return models.NewMalformedEventError(msg.Topic, msg.Value, err)
		}
		return eh.onPaymentStatus(ctx, event)

	case eh.topics.BookingStatus:
		if eh.onBookingStatus == nil {
			break
		}
		event, err := DecodeBookingStatus(msg.Value)
		if err != nil {
			return models.NewMalformedEventError(msg.Topic, msg.Value, err)
		}
		return eh.onBookingStatus(ctx, event)
	}

	eh.logger.Warn("Unhandled message", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset))
	return nil
}
