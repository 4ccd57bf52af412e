package service

import (
	"context"
	"testing"

	"equipment-booking/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusEvent(id uuid.UUID, status string) *models.BookingStatusEvent {
	return &models.BookingStatusEvent{
		BookingID:   id,
		EquipmentID: equipmentE1,
		Status:      status,
		StartDate:   date("2025-01-10"),
		EndDate:     date("2025-01-12"),
	}
}

func TestConfirmedBookingHoldsEquipment(t *testing.T) {
	repo := newMemEquipment()
	s := NewEquipmentService(repo, testTopics.BookingStatus)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.OnBookingStatus(ctx, statusEvent(id, models.BookingStatusConfirmed)))
	require.NoError(t, s.OnBookingStatus(ctx, statusEvent(id, models.BookingStatusConfirmed)))

	view, err := s.GetEquipment(ctx, equipmentE1)
	require.NoError(t, err)
	assert.False(t, view.Availability)
	assert.Len(t, view.Holds, 1)

	ok, err := s.IsAvailable(ctx, equipmentE1, date("2025-01-12"), date("2025-01-14"))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.IsAvailable(ctx, equipmentE1, date("2025-01-13"), date("2025-01-14"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelledBookingReleasesHold(t *testing.T) {
	repo := newMemEquipment()
	s := NewEquipmentService(repo, testTopics.BookingStatus)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.OnBookingStatus(ctx, statusEvent(id, models.BookingStatusConfirmed)))
	require.NoError(t, s.OnBookingStatus(ctx, statusEvent(id, models.BookingStatusCancelled)))

	view, err := s.GetEquipment(ctx, equipmentE1)
	require.NoError(t, err)
	assert.True(t, view.Availability)
	assert.Empty(t, view.Holds)
}

func TestCancelledBeforeConfirmedAddsNoHold(t *testing.T) {
	repo := newMemEquipment()
	s := NewEquipmentService(repo, testTopics.BookingStatus)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.OnBookingStatus(ctx, statusEvent(id, models.BookingStatusCancelled)))
	require.NoError(t, s.OnBookingStatus(ctx, statusEvent(id, models.BookingStatusConfirmed)))

	holds, err := repo.ListHolds(ctx, equipmentE1)
	require.NoError(t, err)
	assert.Empty(t, holds)
}

func TestBookingStatusWithoutRangeIsMalformed(t *testing.T) {
	s := NewEquipmentService(newMemEquipment(), testTopics.BookingStatus)
	e := statusEvent(uuid.New(), models.BookingStatusConfirmed)
	e.EndDate = date("2025-01-01")

	assert.ErrorIs(t, s.OnBookingStatus(context.Background(), e), models.ErrMalformedEvent)

	e = statusEvent(uuid.New(), models.BookingStatusCancelled)
	e.EquipmentID = 0
	assert.ErrorIs(t, s.OnBookingStatus(context.Background(), e), models.ErrMalformedEvent)
}

func TestPendingBookingStatusIsIgnored(t *testing.T) {
	repo := newMemEquipment()
	s := NewEquipmentService(repo, testTopics.BookingStatus)

	require.NoError(t, s.OnBookingStatus(context.Background(), statusEvent(uuid.New(), models.BookingStatusPending)))
	_, err := s.GetEquipment(context.Background(), equipmentE1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRegisterAndExists(t *testing.T) {
	s := NewEquipmentService(newMemEquipment(), testTopics.BookingStatus)
	ctx := context.Background()

	ok, err := s.Exists(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.Register(ctx, &models.Equipment{ID: 0, Name: "bad"}), models.ErrValidation)
	require.NoError(t, s.Register(ctx, &models.Equipment{ID: 7, Name: "Excavator"}))

	ok, err = s.Exists(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.IsAvailable(ctx, 8, date("2025-01-01"), date("2025-01-02"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}
