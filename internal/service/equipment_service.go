package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"equipment-booking/internal/models"
	"equipment-booking/internal/util"

	"go.uber.org/zap"
)

// EquipmentService is the equipment saga participant. It keeps the
// availability view in step with booking outcomes.
type EquipmentService struct {
	repo   EquipmentRepository
	topic  string
	logger *zap.Logger
}

// NewEquipmentService creates a new equipment service. topic names the
// BookingStatus topic for error reporting.
func NewEquipmentService(repo EquipmentRepository, topic string) *EquipmentService {
	return &EquipmentService{repo: repo, topic: topic, logger: util.Named("equipment")}
}

// OnBookingStatus holds the booked range on CONFIRMED and releases it on
// CANCELLED. Redelivered events are no-ops.
func (s *EquipmentService) OnBookingStatus(ctx context.Context, e *models.BookingStatusEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "EquipmentService.OnBookingStatus")
	span.SetAttributes(util.BookingAttr(e.BookingID.String()))
	defer func() { util.EndSpan(span, err) }()

	switch e.Status {
	case models.BookingStatusConfirmed, models.BookingStatusCancelled:
	default:
		return nil
	}

	if e.EquipmentID <= 0 {
		return models.NewMalformedEventError(s.topic, nil, errors.New("missing equipment id"))
	}
	if e.Status == models.BookingStatusConfirmed {
		if e.StartDate.IsZero() || e.EndDate.IsZero() || e.EndDate.Before(e.StartDate) {
			return models.NewMalformedEventError(s.topic, nil, errors.New("confirmed booking without a valid range"))
		}
	}

	applied, err := s.repo.ApplyBookingStatus(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to apply booking status: %w", err)
	}
	if !applied {
		s.logger.Debug("Booking status already applied",
			zap.String("booking_id", e.BookingID.String()),
			zap.String("status", e.Status))
		return nil
	}

	action := "hold"
	if e.Status == models.BookingStatusCancelled {
		action = "release"
	}
	util.EquipmentHoldsTotal.WithLabelValues(action).Inc()
	s.logger.Info("Equipment availability updated",
		zap.Int64("equipment_id", e.EquipmentID),
		zap.String("booking_id", e.BookingID.String()),
		zap.String("action", action))
	return nil
}

// EquipmentView is an equipment with its current holds.
type EquipmentView struct {
	*models.Equipment
	Holds []models.EquipmentHold `json:"holds"`
}

// GetEquipment returns the availability view of an equipment.
func (s *EquipmentService) GetEquipment(ctx context.Context, id int64) (*EquipmentView, error) {
	eq, err := s.repo.GetEquipment(ctx, id)
	if err != nil {
		return nil, err
	}
	holds, err := s.repo.ListHolds(ctx, id)
	if err != nil {
		return nil, err
	}
	return &EquipmentView{Equipment: eq, Holds: holds}, nil
}

// Register adds an equipment to the view or renames it.
func (s *EquipmentService) Register(ctx context.Context, eq *models.Equipment) error {
	if eq.ID <= 0 {
		return fmt.Errorf("%w: equipment id must be positive", models.ErrValidation)
	}
	return s.repo.RegisterEquipment(ctx, eq)
}

// IsAvailable reports whether no hold intersects [start, end].
func (s *EquipmentService) IsAvailable(ctx context.Context, id int64, start, end time.Time) (bool, error) {
	if err := validateRange(start, end); err != nil {
		return false, err
	}
	if _, err := s.repo.GetEquipment(ctx, id); err != nil {
		return false, err
	}
	n, err := s.repo.CountOverlappingHolds(ctx, id, truncateDate(start), truncateDate(end))
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Exists lets the equipment view act as the catalog when both run in one
// process.
func (s *EquipmentService) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := s.repo.GetEquipment(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, models.NewTransientError("equipment store", err)
	}
	return true, nil
}
