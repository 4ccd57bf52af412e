package broker

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"equipment-booking/internal/models"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Events travel in protobuf wire format. Field numbers are part of the
// contract between services and must never be reused.
const (
	bookingCreatedBookingID  protowire.Number = 1
	bookingCreatedAmount     protowire.Number = 2
	bookingCreatedCurrency   protowire.Number = 3
	bookingCreatedEventType  protowire.Number = 4
	bookingCreatedEventID    protowire.Number = 5
	bookingCreatedOccurredAt protowire.Number = 6

	paymentStatusBookingID protowire.Number = 1
	paymentStatusStatus    protowire.Number = 2
	paymentStatusAmount    protowire.Number = 3
	paymentStatusTimestamp protowire.Number = 4
	paymentStatusEventID   protowire.Number = 5

	bookingStatusBookingID   protowire.Number = 1
	bookingStatusEquipmentID protowire.Number = 2
	bookingStatusStatus      protowire.Number = 3
	bookingStatusEventID     protowire.Number = 4
	bookingStatusStartDate   protowire.Number = 5
	bookingStatusEndDate     protowire.Number = 6
	bookingStatusReason      protowire.Number = 7
)

var errMissingBookingID = errors.New("missing booking id")

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(models.DateLayout)
}

// EncodeBookingCreated serializes a BookingCreated event.
func EncodeBookingCreated(e *models.BookingCreatedEvent) []byte {
	var b []byte
	b = appendString(b, bookingCreatedBookingID, e.BookingID.String())
	b = appendDouble(b, bookingCreatedAmount, e.Amount)
	b = appendString(b, bookingCreatedCurrency, e.Currency)
	b = appendString(b, bookingCreatedEventType, e.EventType)
	b = appendString(b, bookingCreatedEventID, e.EventID)
	if !e.OccurredAt.IsZero() {
		b = appendString(b, bookingCreatedOccurredAt, e.OccurredAt.UTC().Format(time.RFC3339Nano))
	}
	return b
}

// EncodePaymentStatus serializes a PaymentStatus event.
func EncodePaymentStatus(e *models.PaymentStatusEvent) []byte {
	var b []byte
	b = appendString(b, paymentStatusBookingID, e.BookingID.String())
	b = appendString(b, paymentStatusStatus, e.Status)
	b = appendDouble(b, paymentStatusAmount, e.Amount)
	if !e.Timestamp.IsZero() {
		b = appendString(b, paymentStatusTimestamp, e.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	b = appendString(b, paymentStatusEventID, e.EventID)
	return b
}

// EncodeBookingStatus serializes a BookingStatus event.
func EncodeBookingStatus(e *models.BookingStatusEvent) []byte {
	var b []byte
	b = appendString(b, bookingStatusBookingID, e.BookingID.String())
	b = appendString(b, bookingStatusEquipmentID, strconv.FormatInt(e.EquipmentID, 10))
	b = appendString(b, bookingStatusStatus, e.Status)
	b = appendString(b, bookingStatusEventID, e.EventID)
	b = appendString(b, bookingStatusStartDate, formatDate(e.StartDate))
	b = appendString(b, bookingStatusEndDate, formatDate(e.EndDate))
	b = appendString(b, bookingStatusReason, e.Reason)
	return b
}

// field is one decoded (number, value) pair. Only the wire types the events
// use are surfaced; anything else is skipped so newer producers can add
// fields.
type field struct {
	num protowire.Number
	str string
	f64 uint64
	typ protowire.Type
}

func decodeFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.str = v
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.f64 = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(models.DateLayout, s)
}

// DecodeBookingCreated parses a BookingCreated payload.
func DecodeBookingCreated(b []byte) (*models.BookingCreatedEvent, error) {
	fields, err := decodeFields(b)
	if err != nil {
		return nil, err
	}

	e := &models.BookingCreatedEvent{}
	var bookingID string
	for _, f := range fields {
		switch {
		case f.num == bookingCreatedBookingID && f.typ == protowire.BytesType:
			bookingID = f.str
		case f.num == bookingCreatedAmount && f.typ == protowire.Fixed64Type:
			e.Amount = math.Float64frombits(f.f64)
		case f.num == bookingCreatedCurrency && f.typ == protowire.BytesType:
			e.Currency = f.str
		case f.num == bookingCreatedEventType && f.typ == protowire.BytesType:
			e.EventType = f.str
		case f.num == bookingCreatedEventID && f.typ == protowire.BytesType:
			e.EventID = f.str
		case f.num == bookingCreatedOccurredAt && f.typ == protowire.BytesType:
			if e.OccurredAt, err = parseTimestamp(f.str); err != nil {
				return nil, fmt.Errorf("occurred_at: %w", err)
			}
		}
	}

	if e.BookingID, err = parseBookingID(bookingID); err != nil {
		return nil, err
	}
	return e, nil
}

// DecodePaymentStatus parses a PaymentStatus payload.
func DecodePaymentStatus(b []byte) (*models.PaymentStatusEvent, error) {
	fields, err := decodeFields(b)
	if err != nil {
		return nil, err
	}

	e := &models.PaymentStatusEvent{}
	var bookingID string
	for _, f := range fields {
		switch {
		case f.num == paymentStatusBookingID && f.typ == protowire.BytesType:
			bookingID = f.str
		case f.num == paymentStatusStatus && f.typ == protowire.BytesType:
			e.Status = f.str
		case f.num == paymentStatusAmount && f.typ == protowire.Fixed64Type:
			e.Amount = math.Float64frombits(f.f64)
		case f.num == paymentStatusTimestamp && f.typ == protowire.BytesType:
			if e.Timestamp, err = parseTimestamp(f.str); err != nil {
				return nil, fmt.Errorf("timestamp: %w", err)
			}
		case f.num == paymentStatusEventID && f.typ == protowire.BytesType:
			e.EventID = f.str
		}
	}

	if e.BookingID, err = parseBookingID(bookingID); err != nil {
		return nil, err
	}
	if e.Status == "" {
		return nil, errors.New("missing status")
	}
	return e, nil
}

// DecodeBookingStatus parses a BookingStatus payload.
func DecodeBookingStatus(b []byte) (*models.BookingStatusEvent, error) {
	fields, err := decodeFields(b)
	if err != nil {
		return nil, err
	}

	e := &models.BookingStatusEvent{}
	var bookingID string
	for _, f := range fields {
		if f.typ != protowire.BytesType {
			continue
		}
		switch f.num {
		case bookingStatusBookingID:
			bookingID = f.str
		case bookingStatusEquipmentID:
			if e.EquipmentID, err = strconv.ParseInt(f.str, 10, 64); err != nil {
				return nil, fmt.Errorf("equipment_id: %w", err)
			}
		case bookingStatusStatus:
			e.Status = f.str
		case bookingStatusEventID:
			e.EventID = f.str
		case bookingStatusStartDate:
			if e.StartDate, err = parseDate(f.str); err != nil {
				return nil, fmt.Errorf("start_date: %w", err)
			}
		case bookingStatusEndDate:
			if e.EndDate, err = parseDate(f.str); err != nil {
				return nil, fmt.Errorf("end_date: %w", err)
			}
		case bookingStatusReason:
			e.Reason = f.str
		}
	}

	if e.BookingID, err = parseBookingID(bookingID); err != nil {
		return nil, err
	}
	if e.Status == "" {
		return nil, errors.New("missing status")
	}
	return e, nil
}

func parseBookingID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, errMissingBookingID
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("booking_id: %w", err)
	}
	return id, nil
}
