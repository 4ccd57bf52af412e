package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and API format for booking dates.
const DateLayout = "2006-01-02"

// Booking represents a reservation of one piece of equipment for an
// inclusive date range.
type Booking struct {
	ID           uuid.UUID `db:"id" json:"id"`
	EquipmentID  int64     `db:"equipment_id" json:"equipmentId"`
	UserID       uuid.UUID `db:"user_id" json:"userId"`
	StartDate    time.Time `db:"start_date" json:"startDate"`
	EndDate      time.Time `db:"end_date" json:"endDate"`
	Price        float64   `db:"price" json:"price"`
	Status       string    `db:"status" json:"status"`
	CancelReason string    `db:"cancel_reason" json:"cancelReason,omitempty"`
	Version      int64     `db:"version" json:"version"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Booking statuses
const (
	BookingStatusPending   = "PENDING"
	BookingStatusConfirmed = "CONFIRMED"
	BookingStatusCancelled = "CANCELLED"
)

// Cancellation reasons
const (
	CancelReasonUser            = "USER_CANCELLED"
	CancelReasonPaymentRejected = "PAYMENT_REJECTED"
	CancelReasonSlotConflict    = "SLOT_CONFLICT"
	CancelReasonExpired         = "EXPIRED"
)

// IsTerminal reports whether no further transition is allowed from status.
func IsTerminal(status string) bool {
	return status == BookingStatusConfirmed || status == BookingStatusCancelled
}

// Payment is the payment participant's record of a booking's payment. It is
// keyed by the booking id.
type Payment struct {
	OrderID          uuid.UUID `db:"order_id" json:"orderId"`
	GatewayOrderID   string    `db:"gateway_order_id" json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string    `db:"gateway_payment_id" json:"gatewayPaymentId,omitempty"`
	Status           string    `db:"status" json:"status"`
	Amount           float64   `db:"amount" json:"amount"`
	Currency         string    `db:"currency" json:"currency"`
	BookingCancelled bool      `db:"booking_cancelled" json:"bookingCancelled"`
	Version          int64     `db:"version" json:"version"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	LastUpdated      time.Time `db:"last_updated" json:"lastUpdated"`
}

// Payment statuses
const (
	PaymentStatusCreated    = "CREATED"
	PaymentStatusInitiated  = "INITIATED"
	PaymentStatusAuthorized = "AUTHORIZED"
	PaymentStatusProcessed  = "PROCESSED"
	PaymentStatusRejected   = "REJECTED"
	PaymentStatusRefunded   = "REFUNDED"
)

var paymentRank = map[string]int{
	PaymentStatusCreated:    0,
	PaymentStatusInitiated:  1,
	PaymentStatusAuthorized: 2,
	PaymentStatusProcessed:  3,
	PaymentStatusRejected:   3,
	PaymentStatusRefunded:   4,
}

// PaymentAdvances reports whether moving a payment from one status to
// another is a forward step. PROCESSED and REJECTED never replace each
// other, and REFUNDED is only reachable from PROCESSED.
func PaymentAdvances(from, to string) bool {
	fr, ok := paymentRank[from]
	if !ok {
		return false
	}
	tr, ok := paymentRank[to]
	if !ok {
		return false
	}
	if to == PaymentStatusRefunded {
		return from == PaymentStatusProcessed
	}
	return tr > fr
}

// Equipment is the availability view kept by the equipment participant.
type Equipment struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Availability bool      `db:"availability" json:"availability"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// EquipmentHold blocks an equipment for a confirmed booking's range.
type EquipmentHold struct {
	BookingID   uuid.UUID `db:"booking_id" json:"bookingId"`
	EquipmentID int64     `db:"equipment_id" json:"equipmentId"`
	StartDate   time.Time `db:"start_date" json:"startDate"`
	EndDate     time.Time `db:"end_date" json:"endDate"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// OutboxMessage is an event persisted alongside the state change that
// produced it, awaiting relay to the bus.
type OutboxMessage struct {
	Seq         int64      `db:"seq"`
	ID          uuid.UUID  `db:"id"`
	Topic       string     `db:"topic"`
	Key         string     `db:"message_key"`
	Payload     []byte     `db:"payload"`
	CreatedAt   time.Time  `db:"created_at"`
	PublishedAt *time.Time `db:"published_at"`
}
