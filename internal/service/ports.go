package service

import (
	"context"
	"time"

	"equipment-booking/internal/models"

	"github.com/google/uuid"
)

// BookingRepository persists bookings and their outbox messages.
type BookingRepository interface {
	CreateBooking(ctx context.Context, b *models.Booking, out *models.OutboxMessage) error
	GetBookingByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	ListBookingsByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error)
	ListConfirmedBookings(ctx context.Context, equipmentID int64) ([]models.Booking, error)
	UpdateBookingStatus(ctx context.Context, b *models.Booking, out *models.OutboxMessage) error
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
}

// PaymentRepository persists payments and their outbox messages.
type PaymentRepository interface {
	CreatePaymentIfAbsent(ctx context.Context, p *models.Payment) (bool, error)
	GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error)
	UpdatePayment(ctx context.Context, p *models.Payment, out *models.OutboxMessage) error
}

// EquipmentRepository persists the equipment availability view.
type EquipmentRepository interface {
	ApplyBookingStatus(ctx context.Context, e *models.BookingStatusEvent) (bool, error)
	GetEquipment(ctx context.Context, id int64) (*models.Equipment, error)
	RegisterEquipment(ctx context.Context, eq *models.Equipment) error
	CountOverlappingHolds(ctx context.Context, equipmentID int64, start, end time.Time) (int, error)
	ListHolds(ctx context.Context, equipmentID int64) ([]models.EquipmentHold, error)
}

// Locker provides mutual exclusion per key. The returned func releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// IdempotencyStore remembers request keys.
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// EquipmentCatalog answers whether an equipment id refers to real equipment.
type EquipmentCatalog interface {
	Exists(ctx context.Context, equipmentID int64) (bool, error)
}

// PaymentGateway creates orders and refunds payments at the payment provider.
// Amounts are in minor currency units.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, receipt string, amount int64, currency string) (string, error)
	Refund(ctx context.Context, paymentID string, amount int64, receipt string) (string, error)
}
