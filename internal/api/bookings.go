package api

import (
	"errors"
	"net/http"
	"strconv"

	"equipment-booking/internal/models"
	"equipment-booking/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// createBooking handles booking creation
func (h *Handler) createBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	start, end, err := parseRange(req.StartDate, req.EndDate)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}

	b, err := h.deps.Bookings.Create(c.Request.Context(), &service.CreateBookingRequest{
		EquipmentID:    req.EquipmentID,
		StartDate:      start,
		EndDate:        end,
		Price:          req.Price,
		IdempotencyKey: c.GetHeader("Idempotency-Key"),
	}, userID(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, b)
}

func (h *Handler) listBookings(c *gin.Context) {
	bookings, err := h.deps.Bookings.ListByUser(c.Request.Context(), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if bookings == nil {
		bookings = []models.Booking{}
	}
	c.JSON(http.StatusOK, bookings)
}

func bookingID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid booking ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) getBooking(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	b, err := h.deps.Bookings.Get(c.Request.Context(), id, userID(c), c.GetBool(ctxAdmin))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) cancelBooking(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	if _, err := h.deps.Bookings.Cancel(c.Request.Context(), id, userID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// confirmBooking confirms on behalf of the owner. When the slot was taken
// the booking comes back cancelled along with a 409.
func (h *Handler) confirmBooking(c *gin.Context) {
	id, ok := bookingID(c)
	if !ok {
		return
	}
	b, err := h.deps.Bookings.Confirm(c.Request.Context(), id, userID(c))
	if errors.Is(err, models.ErrConflict) && b != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "booking": b})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// bookingAvailability answers for the equipment named by the path id.
func (h *Handler) bookingAvailability(c *gin.Context) {
	equipmentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || equipmentID <= 0 {
		badRequest(c, "Invalid equipment ID", nil)
		return
	}
	var q availabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "startDate and endDate are required", err)
		return
	}
	start, end, err := parseRange(q.StartDate, q.EndDate)
	if err != nil {
		badRequest(c, err.Error(), nil)
		return
	}

	available, err := h.deps.Bookings.IsAvailable(c.Request.Context(), equipmentID, start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, availabilityResponse{Available: available})
}
