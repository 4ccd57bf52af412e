package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"equipment-booking/internal/broker"
	"equipment-booking/internal/models"
	"equipment-booking/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxStaleRetries = 5

// BookingOptions configures the booking service.
type BookingOptions struct {
	Currency       string
	PendingTTL     time.Duration
	IdempotencyTTL time.Duration
	Topics         broker.Topics
}

// BookingService owns bookings and their state machine. It starts the saga
// by emitting BookingCreated and reacts to PaymentStatus.
type BookingService struct {
	repo     BookingRepository
	locker   Locker
	catalog  EquipmentCatalog
	idem     IdempotencyStore
	opts     BookingOptions
	now      func() time.Time
	logger   *zap.Logger
	newEvent func() uuid.UUID
}

// NewBookingService creates a new booking service. idem may be nil, in which
// case Idempotency-Key headers are ignored.
func NewBookingService(
	repo BookingRepository,
	locker Locker,
	catalog EquipmentCatalog,
	idem IdempotencyStore,
	opts BookingOptions,
) *BookingService {
	return &BookingService{
		repo:     repo,
		locker:   locker,
		catalog:  catalog,
		idem:     idem,
		opts:     opts,
		now:      time.Now,
		logger:   util.Named("booking"),
		newEvent: uuid.New,
	}
}

// CreateBookingRequest represents a request to reserve equipment
type CreateBookingRequest struct {
	EquipmentID    int64
	StartDate      time.Time
	EndDate        time.Time
	Price          float64
	IdempotencyKey string
}

func equipmentLockKey(equipmentID int64) string {
	return "equipment:" + strconv.FormatInt(equipmentID, 10)
}

func validateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: startDate and endDate are required", models.ErrValidation)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: startDate must not be after endDate", models.ErrValidation)
	}
	return nil
}

// Create validates the request, runs the conflict check under the equipment
// lock and persists a PENDING booking together with its BookingCreated event.
func (s *BookingService) Create(ctx context.Context, req *CreateBookingRequest, userID uuid.UUID) (b *models.Booking, err error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Create")
	defer func() { util.EndSpan(span, err) }()

	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", models.ErrValidation)
	}
	if req.EquipmentID <= 0 {
		return nil, fmt.Errorf("%w: equipmentId must be positive", models.ErrValidation)
	}
	if req.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", models.ErrValidation)
	}
	start, end := truncateDate(req.StartDate), truncateDate(req.EndDate)
	if err := validateRange(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}

	idemKey := ""
	if req.IdempotencyKey != "" && s.idem != nil {
		idemKey = "booking:" + userID.String() + ":" + req.IdempotencyKey
		if existing, ok := s.lookupIdempotent(ctx, idemKey); ok {
			return existing, nil
		}
	}

	exists, err := s.catalog.Exists(ctx, req.EquipmentID)
	if err != nil {
		return nil, err
	}
	if !exists {
		util.BookingsRejectedTotal.WithLabelValues("invalid_equipment").Inc()
		return nil, fmt.Errorf("equipment %d: %w", req.EquipmentID, models.ErrInvalidEquipment)
	}

	unlock, err := s.lock(ctx, req.EquipmentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// The key is stored before the lock is released, so a concurrent retry
	// of the same request sees it here.
	if idemKey != "" {
		if existing, ok := s.lookupIdempotent(ctx, idemKey); ok {
			return existing, nil
		}
	}

	confirmed, err := s.repo.ListConfirmedBookings(ctx, req.EquipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load confirmed bookings: %w", err)
	}
	if HasConflict(confirmed, start, end, uuid.Nil) {
		util.BookingsRejectedTotal.WithLabelValues("conflict").Inc()
		return nil, models.ErrConflict
	}

	b = &models.Booking{
		ID:          uuid.New(),
		EquipmentID: req.EquipmentID,
		UserID:      userID,
		StartDate:   start,
		EndDate:     end,
		Price:       req.Price,
		Status:      models.BookingStatusPending,
	}

	if err := s.repo.CreateBooking(ctx, b, s.bookingCreatedOutbox(b)); err != nil {
		if errors.Is(err, models.ErrConflict) {
			util.BookingsRejectedTotal.WithLabelValues("conflict").Inc()
			return nil, err
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	if idemKey != "" {
		if _, err := s.idem.SetIdempotencyKey(ctx, idemKey, b.ID.String(), s.opts.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.String("booking_id", b.ID.String()), zap.Error(err))
		}
	}

	util.BookingsCreatedTotal.Inc()
	s.logger.Info("Booking created",
		zap.String("booking_id", b.ID.String()),
		zap.Int64("equipment_id", b.EquipmentID),
		zap.String("start_date", b.StartDate.Format(models.DateLayout)),
		zap.String("end_date", b.EndDate.Format(models.DateLayout)))
	return b, nil
}

func (s *BookingService) lookupIdempotent(ctx context.Context, key string) (*models.Booking, bool) {
	val, found, err := s.idem.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.Error(err))
		return nil, false
	}
	if !found {
		return nil, false
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return nil, false
	}
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, false
	}
	s.logger.Info("Duplicate booking request detected", zap.String("booking_id", b.ID.String()))
	return b, true
}

func (s *BookingService) lock(ctx context.Context, equipmentID int64) (func(), error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, equipmentLockKey(equipmentID))
	util.BookingLockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to lock equipment %d: %w", equipmentID, err)
	}
	return unlock, nil
}

// Get returns a booking visible to the requester.
func (s *BookingService) Get(ctx context.Context, id, requesterID uuid.UUID, admin bool) (*models.Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !admin && b.UserID != requesterID {
		return nil, models.ErrUnauthorized
	}
	return b, nil
}

// ListByUser returns the bookings of a user, newest first.
func (s *BookingService) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error) {
	return s.repo.ListBookingsByUser(ctx, userID)
}

// IsAvailable reports whether no CONFIRMED booking overlaps [start, end].
func (s *BookingService) IsAvailable(ctx context.Context, equipmentID int64, start, end time.Time) (bool, error) {
	if err := validateRange(start, end); err != nil {
		return false, err
	}
	confirmed, err := s.repo.ListConfirmedBookings(ctx, equipmentID)
	if err != nil {
		return false, err
	}
	return !HasConflict(confirmed, truncateDate(start), truncateDate(end), uuid.Nil), nil
}

// Cancel cancels a PENDING booking on behalf of its owner. Cancelling an
// already cancelled booking succeeds; a confirmed one cannot be cancelled.
func (s *BookingService) Cancel(ctx context.Context, id, requesterID uuid.UUID) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Cancel")
	defer span.End()

	b, err := s.ownedBooking(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case models.BookingStatusCancelled:
		return b, nil
	case models.BookingStatusConfirmed:
		return nil, fmt.Errorf("%w: booking %s is confirmed", models.ErrInvalidTransition, id)
	}

	res, err := s.applyOutcome(ctx, id, models.BookingStatusCancelled, models.CancelReasonUser)
	if err != nil {
		return nil, err
	}
	if res.booking.Status != models.BookingStatusCancelled {
		return nil, fmt.Errorf("%w: booking %s became %s", models.ErrInvalidTransition, id, res.booking.Status)
	}
	return res.booking, nil
}

// Confirm confirms a PENDING booking on behalf of its owner. If the range
// was taken by another confirmed booking meanwhile, the booking is cancelled
// instead and ErrConflict is returned.
func (s *BookingService) Confirm(ctx context.Context, id, requesterID uuid.UUID) (*models.Booking, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.Confirm")
	defer span.End()

	b, err := s.ownedBooking(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case models.BookingStatusConfirmed:
		return b, nil
	case models.BookingStatusCancelled:
		return nil, fmt.Errorf("%w: booking %s is cancelled", models.ErrInvalidTransition, id)
	}

	res, err := s.applyOutcome(ctx, id, models.BookingStatusConfirmed, "")
	if err != nil {
		return nil, err
	}
	if res.conflicted {
		return res.booking, models.ErrConflict
	}
	if res.booking.Status != models.BookingStatusConfirmed {
		return nil, fmt.Errorf("%w: booking %s became %s", models.ErrInvalidTransition, id, res.booking.Status)
	}
	return res.booking, nil
}

func (s *BookingService) ownedBooking(ctx context.Context, id, requesterID uuid.UUID) (*models.Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != requesterID {
		return nil, models.ErrUnauthorized
	}
	return b, nil
}

// OnPaymentStatus applies a payment outcome. Events for terminal bookings
// and non-final payment statuses are no-ops.
func (s *BookingService) OnPaymentStatus(ctx context.Context, e *models.PaymentStatusEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "BookingService.OnPaymentStatus")
	span.SetAttributes(util.BookingAttr(e.BookingID.String()))
	defer func() { util.EndSpan(span, err) }()

	var target, reason string
	switch e.Status {
	case models.PaymentStatusProcessed:
		target = models.BookingStatusConfirmed
	case models.PaymentStatusRejected, models.PaymentStatusRefunded:
		target, reason = models.BookingStatusCancelled, models.CancelReasonPaymentRejected
	default:
		s.logger.Debug("Ignoring non-final payment status",
			zap.String("booking_id", e.BookingID.String()),
			zap.String("status", e.Status))
		return nil
	}

	res, err := s.applyOutcome(ctx, e.BookingID, target, reason)
	if errors.Is(err, models.ErrNotFound) {
		return models.NewMalformedEventError(s.opts.Topics.PaymentStatus, nil, err)
	}
	if err != nil {
		return err
	}
	if !res.changed {
		s.logger.Info("Payment status for terminal booking ignored",
			zap.String("booking_id", e.BookingID.String()),
			zap.String("booking_status", res.booking.Status),
			zap.String("payment_status", e.Status))
	}
	return nil
}

// CancelExpired cancels PENDING bookings older than the pending TTL and
// returns the ones it cancelled.
func (s *BookingService) CancelExpired(ctx context.Context) ([]*models.Booking, error) {
	cutoff := s.now().Add(-s.opts.PendingTTL)
	expired, err := s.repo.ListExpiredPending(ctx, cutoff, 100)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired bookings: %w", err)
	}

	var cancelled []*models.Booking
	for i := range expired {
		res, err := s.applyOutcome(ctx, expired[i].ID, models.BookingStatusCancelled, models.CancelReasonExpired)
		if err != nil {
			s.logger.Error("Failed to expire booking", zap.String("booking_id", expired[i].ID.String()), zap.Error(err))
			continue
		}
		if res.changed {
			cancelled = append(cancelled, res.booking)
		}
	}
	return cancelled, nil
}

type transitionResult struct {
	booking    *models.Booking
	changed    bool
	conflicted bool
}

// applyOutcome moves a PENDING booking towards target. A booking that is
// already terminal is returned unchanged. Confirmation re-runs the conflict
// check under the equipment lock and turns into a SLOT_CONFLICT
// cancellation when the range is taken. Lost optimistic updates are retried
// against a fresh read.
func (s *BookingService) applyOutcome(ctx context.Context, id uuid.UUID, target, reason string) (*transitionResult, error) {
	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		b, err := s.repo.GetBookingByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if models.IsTerminal(b.Status) {
			return &transitionResult{booking: b}, nil
		}

		var res *transitionResult
		if target == models.BookingStatusConfirmed {
			res, err = s.confirmUnderLock(ctx, b)
		} else {
			err = s.persist(ctx, b, target, reason)
			res = &transitionResult{booking: b, changed: err == nil}
		}

		if errors.Is(err, models.ErrStaleVersion) {
			s.logger.Debug("Stale booking version, retrying", zap.String("booking_id", id.String()))
			continue
		}
		if err != nil {
			return nil, err
		}
		return res, nil
	}
	return nil, fmt.Errorf("booking %s: %w", id, models.ErrStaleVersion)
}

func (s *BookingService) confirmUnderLock(ctx context.Context, b *models.Booking) (*transitionResult, error) {
	unlock, err := s.lock(ctx, b.EquipmentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Reload under the lock so the check sees every confirmation that
	// finished before it.
	fresh, err := s.repo.GetBookingByID(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminal(fresh.Status) {
		return &transitionResult{booking: fresh}, nil
	}

	confirmed, err := s.repo.ListConfirmedBookings(ctx, fresh.EquipmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load confirmed bookings: %w", err)
	}

	if !HasConflict(confirmed, fresh.StartDate, fresh.EndDate, fresh.ID) {
		err = s.persist(ctx, fresh, models.BookingStatusConfirmed, "")
		if err == nil {
			return &transitionResult{booking: fresh, changed: true}, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, err
		}
	}

	s.logger.Warn("Slot taken at confirmation, cancelling booking",
		zap.String("booking_id", fresh.ID.String()),
		zap.Int64("equipment_id", fresh.EquipmentID))
	if err := s.persist(ctx, fresh, models.BookingStatusCancelled, models.CancelReasonSlotConflict); err != nil {
		return nil, err
	}
	return &transitionResult{booking: fresh, changed: true, conflicted: true}, nil
}

// persist writes the transition and its BookingStatus event. b is only
// updated once the write succeeded.
func (s *BookingService) persist(ctx context.Context, b *models.Booking, status, reason string) error {
	next := *b
	next.Status = status
	next.CancelReason = reason

	if err := s.repo.UpdateBookingStatus(ctx, &next, s.bookingStatusOutbox(&next)); err != nil {
		return err
	}
	*b = next

	util.BookingTransitionsTotal.WithLabelValues(status, reason).Inc()
	s.logger.Info("Booking transitioned",
		zap.String("booking_id", b.ID.String()),
		zap.String("status", status),
		zap.String("reason", reason))
	return nil
}

func (s *BookingService) bookingCreatedOutbox(b *models.Booking) *models.OutboxMessage {
	eventID := s.newEvent()
	payload := broker.EncodeBookingCreated(&models.BookingCreatedEvent{
		EventID:    eventID.String(),
		BookingID:  b.ID,
		Amount:     b.Price,
		Currency:   s.opts.Currency,
		EventType:  models.EventTypeBookingCreated,
		OccurredAt: s.now(),
	})
	return &models.OutboxMessage{
		ID:      eventID,
		Topic:   s.opts.Topics.BookingCreated,
		Key:     b.ID.String(),
		Payload: payload,
	}
}

func (s *BookingService) bookingStatusOutbox(b *models.Booking) *models.OutboxMessage {
	eventID := s.newEvent()
	payload := broker.EncodeBookingStatus(&models.BookingStatusEvent{
		EventID:     eventID.String(),
		BookingID:   b.ID,
		EquipmentID: b.EquipmentID,
		Status:      b.Status,
		StartDate:   b.StartDate,
		EndDate:     b.EndDate,
		Reason:      b.CancelReason,
	})
	return &models.OutboxMessage{
		ID:      eventID,
		Topic:   s.opts.Topics.BookingStatus,
		Key:     strconv.FormatInt(b.EquipmentID, 10),
		Payload: payload,
	}
}
