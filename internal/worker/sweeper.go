package worker

import (
	"context"
	"time"

	"equipment-booking/internal/models"
	"equipment-booking/internal/util"

	"go.uber.org/zap"
)

type bookingCanceller interface {
	CancelExpired(ctx context.Context) ([]*models.Booking, error)
}

// ExpirySweeper periodically cancels bookings that stayed PENDING too long.
type ExpirySweeper struct {
	bookings bookingCanceller
	interval time.Duration
	logger   *zap.Logger
}

func NewExpirySweeper(bookings bookingCanceller, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{bookings: bookings, interval: interval, logger: util.Named("sweeper")}
}

func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Expiry sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiry sweeper stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *ExpirySweeper) tick(ctx context.Context) {
	cancelled, err := s.bookings.CancelExpired(ctx)
	if err != nil {
		s.logger.Error("Failed to cancel expired bookings", zap.Error(err))
		return
	}
	for _, b := range cancelled {
		s.logger.Info("Booking expired",
			zap.String("booking_id", b.ID.String()),
			zap.String("user_id", b.UserID.String()),
			zap.Int64("equipment_id", b.EquipmentID))
	}
}
