package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"equipment-booking/internal/models"

	"github.com/google/uuid"
)

const paymentColumns = `order_id, gateway_order_id, gateway_payment_id, status, amount, currency,
	booking_cancelled, version, created_at, last_updated`

// CreatePaymentIfAbsent inserts p unless a payment for the order exists.
// It reports whether a row was inserted.
func (s *Store) CreatePaymentIfAbsent(ctx context.Context, p *models.Payment) (bool, error) {
	query := `
		INSERT INTO payments (order_id, gateway_order_id, status, amount, currency, booking_cancelled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING version, created_at, last_updated`

	err := s.db.QueryRowxContext(ctx, query,
		p.OrderID, p.GatewayOrderID, p.Status, p.Amount, p.Currency, p.BookingCancelled,
	).Scan(&p.Version, &p.CreatedAt, &p.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert payment: %w", err)
	}
	return true, nil
}

// GetPaymentByOrderID retrieves the payment of a booking
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for order %s: %w", orderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPaymentByGatewayOrderID retrieves a payment by the gateway's order id
func (s *Store) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	var p models.Payment
	err := s.db.GetContext(ctx, &p,
		"SELECT "+paymentColumns+" FROM payments WHERE gateway_order_id = $1", gatewayOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment for gateway order %s: %w", gatewayOrderID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePayment persists the mutable fields of p if the row still has
// p.Version, optionally with an outbox message. Concurrent writers yield
// ErrStaleVersion.
func (s *Store) UpdatePayment(ctx context.Context, p *models.Payment, out *models.OutboxMessage) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE payments
		SET gateway_order_id = $1, gateway_payment_id = $2, status = $3, booking_cancelled = $4,
			version = version + 1, last_updated = NOW()
		WHERE order_id = $5 AND version = $6
		RETURNING version, last_updated`

	var version int64
	var lastUpdated time.Time
	err = tx.QueryRowxContext(ctx, query,
		p.GatewayOrderID, p.GatewayPaymentID, p.Status, p.BookingCancelled, p.OrderID, p.Version,
	).Scan(&version, &lastUpdated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.ErrStaleVersion
	case pqCode(err) == codeUniqueViolation:
		return fmt.Errorf("gateway order %s already assigned: %w", p.GatewayOrderID, models.ErrConflict)
	case err != nil:
		return fmt.Errorf("failed to update payment: %w", err)
	}

	if out != nil {
		if err := insertOutbox(ctx, tx, out); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	p.Version = version
	p.LastUpdated = lastUpdated
	return nil
}
