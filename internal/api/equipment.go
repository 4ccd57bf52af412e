package api

import (
	"net/http"
	"strconv"

	"equipment-booking/internal/models"

	"github.com/gin-gonic/gin"
)

func equipmentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid equipment ID", nil)
		return 0, false
	}
	return id, true
}

func (h *Handler) getEquipment(c *gin.Context) {
	id, ok := equipmentID(c)
	if !ok {
		return
	}
	eq, err := h.deps.Equipment.GetEquipment(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eq)
}

func (h *Handler) equipmentAvailability(c *gin.Context) {
	id, ok := equipmentID(c)
	if !ok {
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

	available, err := h.deps.Equipment.IsAvailable(c.Request.Context(), id, start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, availabilityResponse{Available: available})
}

func (h *Handler) registerEquipment(c *gin.Context) {
	id, ok := equipmentID(c)
	if !ok {
		return
	}
	var req registerEquipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	eq := &models.Equipment{ID: id, Name: req.Name}
	if err := h.deps.Equipment.Register(c.Request.Context(), eq); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, eq)
}
