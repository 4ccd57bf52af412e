package api

import (
	"context"
	"net/http"
	"time"

	"equipment-booking/internal/models"
	"equipment-booking/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// BookingAPI is the booking service as seen by HTTP handlers.
type BookingAPI interface {
	Create(ctx context.Context, req *service.CreateBookingRequest, userID uuid.UUID) (*models.Booking, error)
	Get(ctx context.Context, id, requesterID uuid.UUID, admin bool) (*models.Booking, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error)
	Cancel(ctx context.Context, id, requesterID uuid.UUID) (*models.Booking, error)
	Confirm(ctx context.Context, id, requesterID uuid.UUID) (*models.Booking, error)
	IsAvailable(ctx context.Context, equipmentID int64, start, end time.Time) (bool, error)
}

// PaymentAPI is the payment service as seen by HTTP handlers.
type PaymentAPI interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	VerifyPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*models.Payment, error)
	GetPayment(ctx context.Context, orderID uuid.UUID) (*service.PaymentView, error)
}

// EquipmentAPI is the equipment service as seen by HTTP handlers.
type EquipmentAPI interface {
	GetEquipment(ctx context.Context, id int64) (*service.EquipmentView, error)
	IsAvailable(ctx context.Context, id int64, start, end time.Time) (bool, error)
	Register(ctx context.Context, eq *models.Equipment) error
}

// ReadinessCheck reports whether a dependency can serve requests.
type ReadinessCheck func(ctx context.Context) error

// Deps are the services exposed over HTTP. Routes of a nil service are not
// registered.
type Deps struct {
	Bookings  BookingAPI
	Payments  PaymentAPI
	Equipment EquipmentAPI
	Checks    map[string]ReadinessCheck
	RateLimit rate.Limit
	RateBurst int
}

// Handler contains HTTP handlers
type Handler struct {
	deps Deps
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := router.Group("/")
	if h.deps.RateLimit > 0 {
		limited.Use(newIPRateLimiter(h.deps.RateLimit, h.deps.RateBurst).middleware())
	}

	if h.deps.Bookings != nil {
		bookings := limited.Group("/bookings", requireUser())
		{
			bookings.POST("", h.createBooking)
			bookings.GET("", h.listBookings)
			bookings.GET("/:id", h.getBooking)
			bookings.DELETE("/:id", h.cancelBooking)
			bookings.POST("/:id/confirm", h.confirmBooking)
			bookings.GET("/:id/availability", h.bookingAvailability)
		}
	}

	if h.deps.Payments != nil {
		payments := limited.Group("/payments")
		{
			payments.POST("/webhook", h.paymentWebhook)
			payments.POST("/verify", h.verifyPayment)
			payments.GET("/:orderId", requireUser(), h.getPayment)
		}
	}

	if h.deps.Equipment != nil {
		equipments := limited.Group("/equipments")
		{
			equipments.GET("/:id", h.getEquipment)
			equipments.GET("/:id/availability", h.equipmentAvailability)
			equipments.PUT("/:id", requireUser(), requireAdmin(), h.registerEquipment)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.deps.Checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
