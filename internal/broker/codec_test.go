package broker

import (
	"testing"
	"time"

	"equipment-booking/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestBookingStatusCarriesRange(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	in := &models.BookingStatusEvent{
		EventID:     uuid.NewString(),
		BookingID:   uuid.New(),
		EquipmentID: 42,
		Status:      models.BookingStatusConfirmed,
		StartDate:   start,
		EndDate:     end,
	}

	out, err := DecodeBookingStatus(EncodeBookingStatus(in))
	require.NoError(t, err)

	assert.Equal(t, in.BookingID, out.BookingID)
	assert.Equal(t, int64(42), out.EquipmentID)
	assert.True(t, start.Equal(out.StartDate))
	assert.True(t, end.Equal(out.EndDate))
	assert.Empty(t, out.Reason)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	id := uuid.New()
	b := EncodePaymentStatus(&models.PaymentStatusEvent{
		BookingID: id,
		Status:    models.PaymentStatusProcessed,
		Amount:    1500.5,
		EventID:   "evt-1",
	})
	// A newer producer adding a varint field 9 and a bytes field 10.
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendString(b, "extra")

	out, err := DecodePaymentStatus(b)
	require.NoError(t, err)
	assert.Equal(t, id, out.BookingID)
	assert.Equal(t, models.PaymentStatusProcessed, out.Status)
	assert.Equal(t, 1500.5, out.Amount)
	assert.Equal(t, "evt-1", out.EventID)
}

func TestDecodeBookingCreatedFromHandEncodedBytes(t *testing.T) {
	id := uuid.New()
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, id.String())
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, "INR")
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, models.EventTypeBookingCreated)

	out, err := DecodeBookingCreated(b)
	require.NoError(t, err)
	assert.Equal(t, id, out.BookingID)
	assert.Equal(t, "INR", out.Currency)
	assert.Zero(t, out.Amount)
	assert.True(t, out.OccurredAt.IsZero())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	valid := EncodeBookingCreated(&models.BookingCreatedEvent{
		BookingID: uuid.New(),
		Amount:    10,
		Currency:  "INR",
		EventType: models.EventTypeBookingCreated,
	})

	tests := []struct {
		name string
		raw  []byte
	}{
		{"truncated", valid[:len(valid)-3]},
		{"bad tag", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"empty", nil},
		{"not a uuid", protowire.AppendString(protowire.AppendTag(nil, 1, protowire.BytesType), "abc")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeBookingCreated(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestDecodeBookingStatusRequiresStatus(t *testing.T) {
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendString(b, uuid.NewString())

	_, err := DecodeBookingStatus(b)
	assert.Error(t, err)
}
