package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"equipment-booking/internal/broker"
	"equipment-booking/internal/models"

	"github.com/google/uuid"
)

var testTopics = broker.Topics{
	BookingCreated: "booking-created",
	PaymentStatus:  "payment-status",
	BookingStatus:  "booking-status",
	DeadLetter:     "saga-dead-letter",
}

// memBookings mimics the booking store, including the exclusion constraint
// on confirmed ranges and the version check.
type memBookings struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]models.Booking
	outbox   []models.OutboxMessage
}

func newMemBookings() *memBookings {
	return &memBookings{bookings: make(map[uuid.UUID]models.Booking)}
}

func (m *memBookings) CreateBooking(_ context.Context, b *models.Booking, out *models.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Version = 1
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.bookings[b.ID] = *b
	if out != nil {
		m.outbox = append(m.outbox, *out)
	}
	return nil
}

func (m *memBookings) GetBookingByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &b, nil
}

func (m *memBookings) ListBookingsByUser(_ context.Context, userID uuid.UUID) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memBookings) ListConfirmedBookings(_ context.Context, equipmentID int64) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.EquipmentID == equipmentID && b.Status == models.BookingStatusConfirmed {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBookings) UpdateBookingStatus(_ context.Context, b *models.Booking, out *models.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bookings[b.ID]
	if !ok || cur.Version != b.Version {
		return models.ErrStaleVersion
	}
	if b.Status == models.BookingStatusConfirmed {
		for _, o := range m.bookings {
			if o.ID != b.ID && o.EquipmentID == b.EquipmentID && o.Status == models.BookingStatusConfirmed &&
				Overlaps(b.StartDate, b.EndDate, o.StartDate, o.EndDate) {
				return models.ErrConflict
			}
		}
	}
	b.Version++
	b.UpdatedAt = time.Now()
	m.bookings[b.ID] = *b
	if out != nil {
		m.outbox = append(m.outbox, *out)
	}
	return nil
}

func (m *memBookings) ListExpiredPending(_ context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Booking
	for _, b := range m.bookings {
		if b.Status == models.BookingStatusPending && b.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memBookings) setCreatedAt(id uuid.UUID, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.CreatedAt = at
	m.bookings[id] = b
}

// messages returns the captured outbox messages published to topic.
func (m *memBookings) messages(topic string) []models.OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OutboxMessage
	for _, msg := range m.outbox {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

type memPayments struct {
	mu       sync.Mutex
	payments map[uuid.UUID]models.Payment
	outbox   []models.OutboxMessage

	// failStatus makes the next update to that status fail once.
	failStatus string
}

func newMemPayments() *memPayments {
	return &memPayments{payments: make(map[uuid.UUID]models.Payment)}
}

func (m *memPayments) CreatePaymentIfAbsent(_ context.Context, p *models.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.OrderID]; ok {
		return false, nil
	}
	p.Version = 1
	p.CreatedAt = time.Now()
	p.LastUpdated = p.CreatedAt
	m.payments[p.OrderID] = *p
	return true, nil
}

func (m *memPayments) GetPaymentByOrderID(_ context.Context, orderID uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[orderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &p, nil
}

func (m *memPayments) GetPaymentByGatewayOrderID(_ context.Context, gatewayOrderID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.GatewayOrderID == gatewayOrderID {
			return &p, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memPayments) UpdatePayment(_ context.Context, p *models.Payment, out *models.OutboxMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStatus != "" && p.Status == m.failStatus {
		m.failStatus = ""
		return errBoom
	}
	cur, ok := m.payments[p.OrderID]
	if !ok || cur.Version != p.Version {
		return models.ErrStaleVersion
	}
	p.Version++
	m.payments[p.OrderID] = *p
	if out != nil {
		m.outbox = append(m.outbox, *out)
	}
	return nil
}

func (m *memPayments) get(orderID uuid.UUID) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payments[orderID]
}

func (m *memPayments) messages() []models.OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OutboxMessage(nil), m.outbox...)
}

type memEquipment struct {
	mu        sync.Mutex
	equipment map[int64]models.Equipment
	holds     map[uuid.UUID]models.EquipmentHold
	applied   map[string]bool
}

func newMemEquipment() *memEquipment {
	return &memEquipment{
		equipment: make(map[int64]models.Equipment),
		holds:     make(map[uuid.UUID]models.EquipmentHold),
		applied:   make(map[string]bool),
	}
}

func (m *memEquipment) ApplyBookingStatus(_ context.Context, e *models.BookingStatusEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := e.BookingID.String() + "/" + e.Status
	if m.applied[key] {
		return false, nil
	}
	m.applied[key] = true
	if _, ok := m.equipment[e.EquipmentID]; !ok {
		m.equipment[e.EquipmentID] = models.Equipment{ID: e.EquipmentID, Availability: true}
	}
	switch e.Status {
	case models.BookingStatusConfirmed:
		if !m.applied[e.BookingID.String()+"/"+models.BookingStatusCancelled] {
			m.holds[e.BookingID] = models.EquipmentHold{
				BookingID: e.BookingID, EquipmentID: e.EquipmentID, StartDate: e.StartDate, EndDate: e.EndDate,
			}
		}
	case models.BookingStatusCancelled:
		delete(m.holds, e.BookingID)
	}
	return true, nil
}

func (m *memEquipment) GetEquipment(_ context.Context, id int64) (*models.Equipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eq, ok := m.equipment[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	eq.Availability = true
	for _, h := range m.holds {
		if h.EquipmentID == id {
			eq.Availability = false
		}
	}
	return &eq, nil
}

func (m *memEquipment) RegisterEquipment(_ context.Context, eq *models.Equipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equipment[eq.ID] = *eq
	return nil
}

func (m *memEquipment) CountOverlappingHolds(_ context.Context, id int64, start, end time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.holds {
		if h.EquipmentID == id && Overlaps(start, end, h.StartDate, h.EndDate) {
			n++
		}
	}
	return n, nil
}

func (m *memEquipment) ListHolds(_ context.Context, id int64) ([]models.EquipmentHold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.EquipmentHold
	for _, h := range m.holds {
		if h.EquipmentID == id {
			out = append(out, h)
		}
	}
	return out, nil
}

type staticCatalog struct {
	known map[int64]bool
	err   error
}

func (c staticCatalog) Exists(_ context.Context, id int64) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.known[id], nil
}

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memIdempotency) GetIdempotencyKey(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.keys[key]
	return v, ok, nil
}

func (m *memIdempotency) SetIdempotencyKey(_ context.Context, key, value string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = value
	return true, nil
}

type fakeGateway struct {
	mu        sync.Mutex
	orders    int
	refunds   []string
	orderErr  error
	refundErr error
	block     bool
}

func (g *fakeGateway) CreateOrder(ctx context.Context, receipt string, _ int64, _ string) (string, error) {
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderErr != nil {
		return "", g.orderErr
	}
	g.orders++
	return "order_" + receipt, nil
}

func (g *fakeGateway) Refund(_ context.Context, paymentID string, _ int64, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return "", g.refundErr
	}
	for _, id := range g.refunds {
		if id == paymentID {
			return "", models.ErrAlreadyRefunded
		}
	}
	g.refunds = append(g.refunds, paymentID)
	return "rfnd_" + paymentID, nil
}

var errBoom = errors.New("boom")
