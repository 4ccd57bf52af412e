package worker

import (
	"context"

	"equipment-booking/internal/broker"
	"equipment-booking/internal/service"
)

// BookingWorker feeds PaymentStatus events to the booking service.
type BookingWorker struct {
	consumer  *broker.Consumer
	processor *Processor
}

// NewBookingWorker creates a new booking worker
func NewBookingWorker(
	consumer *broker.Consumer,
	bookings *service.BookingService,
	deadLetter DeadLetterPublisher,
	topics broker.Topics,
	opts ProcessorOptions,
) *BookingWorker {
	handler := broker.NewEventHandler(topics)
	handler.OnPaymentStatus(bookings.OnPaymentStatus)

	return &BookingWorker{
		consumer:  consumer,
		processor: NewProcessor(consumer, handler.HandleMessage, deadLetter, opts),
	}
}

// Start consumes until ctx is cancelled
func (w *BookingWorker) Start(ctx context.Context) error {
	return w.processor.Run(ctx)
}

// Stop closes the consumer
func (w *BookingWorker) Stop() error {
	return w.consumer.Close()
}

// PaymentWorker feeds BookingCreated or BookingStatus events to the payment
// service. The payment service runs one worker per topic.
type PaymentWorker struct {
	consumer  *broker.Consumer
	processor *Processor
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(
	consumer *broker.Consumer,
	payments *service.PaymentService,
	deadLetter DeadLetterPublisher,
	topics broker.Topics,
	opts ProcessorOptions,
) *PaymentWorker {
	handler := broker.NewEventHandler(topics)
	handler.OnBookingCreated(payments.OnBookingCreated)
	handler.OnBookingStatus(payments.OnBookingStatus)

	return &PaymentWorker{
		consumer:  consumer,
		processor: NewProcessor(consumer, handler.HandleMessage, deadLetter, opts),
	}
}

// Start consumes until ctx is cancelled
func (pw *PaymentWorker) Start(ctx context.Context) error {
	return pw.processor.Run(ctx)
}

// Stop closes the consumer
func (pw *PaymentWorker) Stop() error {
	return pw.consumer.Close()
}

// EquipmentWorker feeds BookingStatus events to the equipment service.
type EquipmentWorker struct {
	consumer  *broker.Consumer
	processor *Processor
}

// NewEquipmentWorker creates a new equipment worker
func NewEquipmentWorker(
	consumer *broker.Consumer,
	equipment *service.EquipmentService,
	deadLetter DeadLetterPublisher,
	topics broker.Topics,
	opts ProcessorOptions,
) *EquipmentWorker {
	handler := broker.NewEventHandler(topics)
	handler.OnBookingStatus(equipment.OnBookingStatus)

	return &EquipmentWorker{
		consumer:  consumer,
		processor: NewProcessor(consumer, handler.HandleMessage, deadLetter, opts),
	}
}

// Start consumes until ctx is cancelled
func (w *EquipmentWorker) Start(ctx context.Context) error {
	return w.processor.Run(ctx)
}

// Stop closes the consumer
func (w *EquipmentWorker) Stop() error {
	return w.consumer.Close()
}
