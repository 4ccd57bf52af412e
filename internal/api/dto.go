package api

import (
	"fmt"
	"time"

	"equipment-booking/internal/models"
)

type createBookingRequest struct {
	EquipmentID int64   `json:"equipmentId" binding:"required,gt=0"`
	StartDate   string  `json:"startDate" binding:"required"`
	EndDate     string  `json:"endDate" binding:"required"`
	Price       float64 `json:"price" binding:"gte=0"`
}

type verifyPaymentRequest struct {
	OrderID   string `json:"orderId" binding:"required"`
	PaymentID string `json:"paymentId" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type registerEquipmentRequest struct {
	Name string `json:"name" binding:"required"`
}

type availabilityQuery struct {
	StartDate string `form:"startDate" binding:"required"`
	EndDate   string `form:"endDate" binding:"required"`
}

type availabilityResponse struct {
	Available bool `json:"available"`
}

func parseRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.Parse(models.DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("startDate must be YYYY-MM-DD")
	}
	e, err := time.Parse(models.DateLayout, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("endDate must be YYYY-MM-DD")
	}
	return s, e, nil
}
