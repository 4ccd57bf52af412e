package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeBookingCreated = "BOOKING_CREATED"
)

// BookingCreatedEvent is emitted when a PENDING booking is persisted.
type BookingCreatedEvent struct {
	EventID    string
	BookingID  uuid.UUID
	Amount     float64
	Currency   string
	EventType  string
	OccurredAt time.Time
}

// PaymentStatusEvent reports a payment outcome for a booking.
type PaymentStatusEvent struct {
	EventID   string
	BookingID uuid.UUID
	Status    string
	Amount    float64
	Timestamp time.Time
}

// BookingStatusEvent is emitted on every booking transition. It carries the
// range so the equipment participant can hold or release it.
type BookingStatusEvent struct {
	EventID     string
	BookingID   uuid.UUID
	EquipmentID int64
	Status      string
	StartDate   time.Time
	EndDate     time.Time
	Reason      string
}
