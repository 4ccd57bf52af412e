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

const bookingColumns = `id, equipment_id, user_id, start_date, end_date, price, status,
	cancel_reason, version, created_at, updated_at`

// CreateBooking inserts a booking and its outbox message in one transaction.
func (s *Store) CreateBooking(ctx context.Context, b *models.Booking, out *models.OutboxMessage) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO bookings (id, equipment_id, user_id, start_date, end_date, price, status, cancel_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING version, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		b.ID, b.EquipmentID, b.UserID, b.StartDate, b.EndDate, b.Price, b.Status, b.CancelReason,
	).Scan(&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if pqCode(err) == codeExclusionViolation {
			return models.ErrConflict
		}
		return fmt.Errorf("failed to insert booking: %w", err)
	}

	if out != nil {
		if err := insertOutbox(ctx, tx, out); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetBookingByID retrieves a booking by ID
func (s *Store) GetBookingByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := s.db.GetContext(ctx, &b, "SELECT "+bookingColumns+" FROM bookings WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBookingsByUser retrieves bookings for a user, newest first
func (s *Store) ListBookingsByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT "+bookingColumns+" FROM bookings WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return bookings, err
}

// ListConfirmedBookings retrieves the CONFIRMED bookings of an equipment
func (s *Store) ListConfirmedBookings(ctx context.Context, equipmentID int64) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT "+bookingColumns+" FROM bookings WHERE equipment_id = $1 AND status = $2 ORDER BY start_date",
		equipmentID, models.BookingStatusConfirmed)
	return bookings, err
}

// UpdateBookingStatus writes b.Status and b.CancelReason if the row still
// has b.Version, together with the outbox message. On success b carries the
// new version. A concurrent writer yields ErrStaleVersion; an overlapping
// CONFIRMED row yields ErrConflict.
func (s *Store) UpdateBookingStatus(ctx context.Context, b *models.Booking, out *models.OutboxMessage) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE bookings
		SET status = $1, cancel_reason = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4
		RETURNING version, updated_at`

	var version int64
	var updatedAt time.Time
	err = tx.QueryRowxContext(ctx, query, b.Status, b.CancelReason, b.ID, b.Version).Scan(&version, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.ErrStaleVersion
	case pqCode(err) == codeExclusionViolation:
		return models.ErrConflict
	case err != nil:
		return fmt.Errorf("failed to update booking: %w", err)
	}

	if out != nil {
		if err := insertOutbox(ctx, tx, out); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	b.Version = version
	b.UpdatedAt = updatedAt
	return nil
}

// ListExpiredPending returns PENDING bookings created before cutoff
func (s *Store) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	bookings := []models.Booking{}
	err := s.db.SelectContext(ctx, &bookings,
		"SELECT "+bookingColumns+" FROM bookings WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3",
		models.BookingStatusPending, cutoff, limit)
	return bookings, err
}
