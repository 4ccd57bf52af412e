package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"equipment-booking/internal/models"
)

// ApplyBookingStatus applies a booking transition to the equipment view.
// The (booking, status) pair is recorded in the applied ledger inside the
// same transaction, so a redelivered event reports applied=false and
// changes nothing. A CONFIRMED that arrives after the CANCELLED of the same
// booking never creates a hold.
func (s *Store) ApplyBookingStatus(ctx context.Context, e *models.BookingStatusEvent) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO applied_booking_events (booking_id, status, event_id)
		 VALUES ($1, $2, $3) ON CONFLICT (booking_id, status) DO NOTHING`,
		e.BookingID, e.Status, e.EventID)
	if err != nil {
		return false, fmt.Errorf("failed to record applied event: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO equipment (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, e.EquipmentID); err != nil {
		return false, fmt.Errorf("failed to upsert equipment: %w", err)
	}

	var locked int64
	if err := tx.GetContext(ctx, &locked,
		"SELECT id FROM equipment WHERE id = $1 FOR UPDATE", e.EquipmentID); err != nil {
		return false, fmt.Errorf("failed to lock equipment: %w", err)
	}

	switch e.Status {
	case models.BookingStatusConfirmed:
		var cancelled bool
		if err := tx.GetContext(ctx, &cancelled,
			`SELECT EXISTS(SELECT 1 FROM applied_booking_events WHERE booking_id = $1 AND status = $2)`,
			e.BookingID, models.BookingStatusCancelled); err != nil {
			return false, err
		}
		if !cancelled {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO equipment_holds (booking_id, equipment_id, start_date, end_date)
				 VALUES ($1, $2, $3, $4) ON CONFLICT (booking_id) DO NOTHING`,
				e.BookingID, e.EquipmentID, e.StartDate, e.EndDate); err != nil {
				return false, fmt.Errorf("failed to insert hold: %w", err)
			}
		}

	case models.BookingStatusCancelled:
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM equipment_holds WHERE booking_id = $1", e.BookingID); err != nil {
			return false, fmt.Errorf("failed to release hold: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE equipment
		 SET availability = NOT EXISTS(
		     SELECT 1 FROM equipment_holds WHERE equipment_id = $1 AND end_date >= CURRENT_DATE),
		     updated_at = NOW()
		 WHERE id = $1`, e.EquipmentID); err != nil {
		return false, fmt.Errorf("failed to refresh availability: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetEquipment retrieves an equipment view. Availability is evaluated at
// read time so holds that ended since the last event are not counted.
func (s *Store) GetEquipment(ctx context.Context, id int64) (*models.Equipment, error) {
	var eq models.Equipment
	err := s.db.GetContext(ctx, &eq,
		`SELECT e.id, e.name, e.updated_at,
		        NOT EXISTS(SELECT 1 FROM equipment_holds h
		                   WHERE h.equipment_id = e.id AND h.end_date >= CURRENT_DATE) AS availability
		 FROM equipment e WHERE e.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("equipment %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &eq, nil
}

// RegisterEquipment inserts or renames an equipment.
func (s *Store) RegisterEquipment(ctx context.Context, eq *models.Equipment) error {
	query := `
		INSERT INTO equipment (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
		RETURNING availability, updated_at`

	return s.db.QueryRowxContext(ctx, query, eq.ID, eq.Name).Scan(&eq.Availability, &eq.UpdatedAt)
}

// CountOverlappingHolds counts holds on the equipment intersecting the
// inclusive range [start, end].
func (s *Store) CountOverlappingHolds(ctx context.Context, equipmentID int64, start, end time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM equipment_holds
		 WHERE equipment_id = $1 AND NOT (end_date < $2 OR start_date > $3)`,
		equipmentID, start, end)
	return n, err
}

// ListHolds retrieves the holds of an equipment ordered by start date
func (s *Store) ListHolds(ctx context.Context, equipmentID int64) ([]models.EquipmentHold, error) {
	holds := []models.EquipmentHold{}
	err := s.db.SelectContext(ctx, &holds,
		`SELECT booking_id, equipment_id, start_date, end_date, created_at
		 FROM equipment_holds WHERE equipment_id = $1 ORDER BY start_date`, equipmentID)
	return holds, err
}
