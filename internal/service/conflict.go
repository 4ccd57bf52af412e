package service

import (
	"time"

	"equipment-booking/internal/models"

	"github.com/google/uuid"
)

// Overlaps reports whether the closed ranges [aStart, aEnd] and
// [bStart, bEnd] share at least one day. Touching boundaries overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !(aEnd.Before(bStart) || aStart.After(bEnd))
}

// HasConflict reports whether [start, end] overlaps any CONFIRMED booking
// in existing other than exclude.
func HasConflict(existing []models.Booking, start, end time.Time, exclude uuid.UUID) bool {
	for i := range existing {
		b := &existing[i]
		if b.ID == exclude || b.Status != models.BookingStatusConfirmed {
			continue
		}
		if Overlaps(start, end, b.StartDate, b.EndDate) {
			return true
		}
	}
	return false
}

// truncateDate drops the time of day, keeping the calendar date in UTC.
func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
