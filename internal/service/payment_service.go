package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"equipment-booking/internal/broker"
	"equipment-booking/internal/models"
	"equipment-booking/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentOptions configures the payment participant.
type PaymentOptions struct {
	KeyID          string
	KeySecret      string
	WebhookSecret  string
	Currency       string
	GatewayTimeout time.Duration
	CheckoutURL    string
	Topics         broker.Topics
}

// PaymentService is the payment saga participant. It opens a gateway order
// for every new booking, turns gateway callbacks into PaymentStatus events
// and refunds payments whose booking ended cancelled.
type PaymentService struct {
	repo    PaymentRepository
	gateway PaymentGateway
	opts    PaymentOptions
	now     func() time.Time
	logger  *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(repo PaymentRepository, gateway PaymentGateway, opts PaymentOptions) *PaymentService {
	return &PaymentService{
		repo:    repo,
		gateway: gateway,
		opts:    opts,
		now:     time.Now,
		logger:  util.Named("payment"),
	}
}

// webhookEvents maps gateway callback events to payment statuses. Events not
// listed are acknowledged and ignored.
var webhookEvents = map[string]string{
	"payment.captured":   models.PaymentStatusProcessed,
	"order.paid":         models.PaymentStatusProcessed,
	"payout.processed":   models.PaymentStatusProcessed,
	"payment.failed":     models.PaymentStatusRejected,
	"payout.rejected":    models.PaymentStatusRejected,
	"payment.authorized": models.PaymentStatusAuthorized,
	"payment.created":    models.PaymentStatusInitiated,
	"payout.initiated":   models.PaymentStatusInitiated,
}

type webhookEntity struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
}

type webhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity webhookEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity webhookEntity `json:"entity"`
		} `json:"order"`
		Payout *struct {
			Entity webhookEntity `json:"entity"`
		} `json:"payout"`
	} `json:"payload"`
}

// gatewayIDs extracts the gateway order and payment ids from a callback.
func (w *webhookPayload) gatewayIDs() (orderID, paymentID string) {
	if p := w.Payload.Payment; p != nil {
		orderID, paymentID = p.Entity.OrderID, p.Entity.ID
	}
	if o := w.Payload.Order; o != nil && orderID == "" {
		orderID = o.Entity.ID
	}
	if p := w.Payload.Payout; p != nil {
		if orderID == "" {
			orderID = p.Entity.OrderID
		}
		if paymentID == "" {
			paymentID = p.Entity.ID
		}
	}
	return orderID, paymentID
}

func sign(secret, message []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureMatches(secret string, message []byte, signature string) bool {
	expected := sign([]byte(secret), message)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

func toMinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// OnBookingCreated records a CREATED payment for the booking and opens a
// gateway order for it. Redelivery finds the stored gateway order and does
// nothing. Gateway failures are transient so the event is retried.
func (s *PaymentService) OnBookingCreated(ctx context.Context, e *models.BookingCreatedEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.OnBookingCreated")
	span.SetAttributes(util.BookingAttr(e.BookingID.String()))
	defer func() { util.EndSpan(span, err) }()

	currency := e.Currency
	if currency == "" {
		currency = s.opts.Currency
	}

	p := &models.Payment{
		OrderID:  e.BookingID,
		Status:   models.PaymentStatusCreated,
		Amount:   e.Amount,
		Currency: currency,
	}
	created, err := s.repo.CreatePaymentIfAbsent(ctx, p)
	if err != nil {
		return err
	}
	if !created {
		if p, err = s.repo.GetPaymentByOrderID(ctx, e.BookingID); err != nil {
			return err
		}
	}

	if p.GatewayOrderID != "" {
		s.logger.Debug("Gateway order already exists", zap.String("booking_id", e.BookingID.String()))
		return nil
	}
	if p.BookingCancelled {
		s.logger.Info("Booking cancelled before payment was opened", zap.String("booking_id", e.BookingID.String()))
		return nil
	}

	gatewayOrderID, err := s.createGatewayOrder(ctx, p)
	if err != nil {
		return err
	}

	p.GatewayOrderID = gatewayOrderID
	if err := s.repo.UpdatePayment(ctx, p, nil); err != nil {
		return fmt.Errorf("failed to store gateway order: %w", err)
	}

	util.PaymentStatusTotal.WithLabelValues(models.PaymentStatusCreated).Inc()
	s.logger.Info("Gateway order created",
		zap.String("booking_id", e.BookingID.String()),
		zap.String("gateway_order_id", gatewayOrderID))
	return nil
}

func (s *PaymentService) createGatewayOrder(ctx context.Context, p *models.Payment) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	start := time.Now()
	defer func() { util.GatewayLatency.WithLabelValues("create_order").Observe(time.Since(start).Seconds()) }()

	id, err := s.gateway.CreateOrder(ctx, p.OrderID.String(), toMinorUnits(p.Amount), p.Currency)
	if err != nil {
		if errors.Is(err, models.ErrTransientDependency) {
			return "", err
		}
		return "", models.NewTransientError("gateway", err)
	}
	return id, nil
}

// HandleWebhook authenticates a gateway callback and applies the payment
// status it reports. A bad signature is rejected before anything is read or
// written.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer func() { util.EndSpan(span, err) }()

	if signature == "" || !signatureMatches(s.opts.WebhookSecret, payload, signature) {
		util.PaymentSignatureFailures.WithLabelValues("webhook").Inc()
		return models.ErrInvalidSignature
	}

	var w webhookPayload
	if err := json.Unmarshal(payload, &w); err != nil {
		return fmt.Errorf("%w: webhook body: %v", models.ErrValidation, err)
	}

	status, ok := webhookEvents[w.Event]
	if !ok {
		s.logger.Info("Ignoring webhook event", zap.String("event", w.Event))
		return nil
	}

	gatewayOrderID, gatewayPaymentID := w.gatewayIDs()
	if gatewayOrderID == "" {
		return fmt.Errorf("%w: webhook %s carries no order id", models.ErrValidation, w.Event)
	}

	return s.applyStatus(ctx, gatewayOrderID, status, gatewayPaymentID)
}

// VerifyPayment checks a checkout signature, computed over
// "gatewayOrderId|gatewayPaymentId" with the account secret, and marks the
// payment PROCESSED.
func (s *PaymentService) VerifyPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (p *models.Payment, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.VerifyPayment")
	defer func() { util.EndSpan(span, err) }()

	if gatewayOrderID == "" || gatewayPaymentID == "" {
		return nil, fmt.Errorf("%w: orderId and paymentId are required", models.ErrValidation)
	}
	message := []byte(gatewayOrderID + "|" + gatewayPaymentID)
	if signature == "" || !signatureMatches(s.opts.KeySecret, message, signature) {
		util.PaymentSignatureFailures.WithLabelValues("verify").Inc()
		return nil, models.ErrInvalidSignature
	}

	if err := s.applyStatus(ctx, gatewayOrderID, models.PaymentStatusProcessed, gatewayPaymentID); err != nil {
		return nil, err
	}
	return s.repo.GetPaymentByGatewayOrderID(ctx, gatewayOrderID)
}

// applyStatus moves the payment found by gateway order id forward to
// status. Updates that do not advance the payment are no-ops.
func (s *PaymentService) applyStatus(ctx context.Context, gatewayOrderID, status, gatewayPaymentID string) error {
	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		p, err := s.repo.GetPaymentByGatewayOrderID(ctx, gatewayOrderID)
		if err != nil {
			return err
		}

		if !models.PaymentAdvances(p.Status, status) {
			s.logger.Debug("Payment status not advanced",
				zap.String("booking_id", p.OrderID.String()),
				zap.String("current", p.Status),
				zap.String("received", status))
			return s.settle(ctx, p)
		}

		next := *p
		next.Status = status
		if gatewayPaymentID != "" {
			next.GatewayPaymentID = gatewayPaymentID
		}

		err = s.repo.UpdatePayment(ctx, &next, s.paymentStatusOutbox(&next))
		if errors.Is(err, models.ErrStaleVersion) {
			continue
		}
		if err != nil {
			return err
		}

		util.PaymentStatusTotal.WithLabelValues(status).Inc()
		s.logger.Info("Payment status updated",
			zap.String("booking_id", next.OrderID.String()),
			zap.String("status", status))
		return s.settle(ctx, &next)
	}
	return fmt.Errorf("payment for gateway order %s: %w", gatewayOrderID, models.ErrStaleVersion)
}

// OnBookingStatus records that a booking was cancelled and refunds its
// payment if it was already captured. Other statuses are ignored.
func (s *PaymentService) OnBookingStatus(ctx context.Context, e *models.BookingStatusEvent) (err error) {
	if e.Status != models.BookingStatusCancelled {
		return nil
	}

	ctx, span := util.StartSpan(ctx, "PaymentService.OnBookingStatus")
	span.SetAttributes(util.BookingAttr(e.BookingID.String()))
	defer func() { util.EndSpan(span, err) }()

	for attempt := 0; attempt < maxStaleRetries; attempt++ {
		p, err := s.repo.GetPaymentByOrderID(ctx, e.BookingID)
		if errors.Is(err, models.ErrNotFound) {
			// BookingCreated has not been consumed yet. Leave a marker so
			// no gateway order is opened for this booking.
			marker := &models.Payment{
				OrderID:          e.BookingID,
				Status:           models.PaymentStatusCreated,
				Currency:         s.opts.Currency,
				BookingCancelled: true,
			}
			created, err := s.repo.CreatePaymentIfAbsent(ctx, marker)
			if err != nil {
				return err
			}
			if created {
				return nil
			}
			continue
		}
		if err != nil {
			return err
		}

		if p.BookingCancelled {
			return s.settle(ctx, p)
		}

		p.BookingCancelled = true
		err = s.repo.UpdatePayment(ctx, p, nil)
		if errors.Is(err, models.ErrStaleVersion) {
			continue
		}
		if err != nil {
			return err
		}

		s.logger.Info("Booking cancelled, payment flagged",
			zap.String("booking_id", e.BookingID.String()),
			zap.String("reason", e.Reason),
			zap.String("payment_status", p.Status))
		return s.settle(ctx, p)
	}
	return fmt.Errorf("payment for booking %s: %w", e.BookingID, models.ErrStaleVersion)
}

// settle refunds a captured payment whose booking was cancelled.
func (s *PaymentService) settle(ctx context.Context, p *models.Payment) error {
	if p.Status != models.PaymentStatusProcessed || !p.BookingCancelled {
		return nil
	}
	if p.GatewayPaymentID == "" {
		return fmt.Errorf("%w: payment for booking %s has no gateway payment id to refund",
			models.ErrValidation, p.OrderID)
	}

	refundID, err := s.refund(ctx, p)
	if errors.Is(err, models.ErrAlreadyRefunded) {
		// A previous attempt refunded at the gateway but did not get to
		// record it.
		s.logger.Info("Refund already issued at gateway",
			zap.String("booking_id", p.OrderID.String()),
			zap.String("payment_id", p.GatewayPaymentID))
	} else if err != nil {
		return err
	}

	next := *p
	next.Status = models.PaymentStatusRefunded
	if err := s.repo.UpdatePayment(ctx, &next, s.paymentStatusOutbox(&next)); err != nil {
		// A redelivery refunds again and gets ErrAlreadyRefunded, which
		// records the refund.
		return fmt.Errorf("failed to record refund %s: %w", refundID, err)
	}
	*p = next

	util.PaymentStatusTotal.WithLabelValues(models.PaymentStatusRefunded).Inc()
	s.logger.Info("Payment refunded",
		zap.String("booking_id", p.OrderID.String()),
		zap.String("refund_id", refundID))
	return nil
}

func (s *PaymentService) refund(ctx context.Context, p *models.Payment) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()

	start := time.Now()
	defer func() { util.GatewayLatency.WithLabelValues("refund").Observe(time.Since(start).Seconds()) }()

	id, err := s.gateway.Refund(ctx, p.GatewayPaymentID, toMinorUnits(p.Amount), p.OrderID.String())
	if err != nil {
		if errors.Is(err, models.ErrTransientDependency) || errors.Is(err, models.ErrAlreadyRefunded) {
			return "", err
		}
		return "", models.NewTransientError("gateway", err)
	}
	return id, nil
}

// PaymentView is a payment together with where the client pays it.
type PaymentView struct {
	*models.Payment
	CheckoutURL string `json:"checkoutUrl,omitempty"`
}

// GetPayment returns the payment of a booking.
func (s *PaymentService) GetPayment(ctx context.Context, orderID uuid.UUID) (*PaymentView, error) {
	p, err := s.repo.GetPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &PaymentView{Payment: p, CheckoutURL: s.checkoutURL(p)}, nil
}

func (s *PaymentService) checkoutURL(p *models.Payment) string {
	if p.GatewayOrderID == "" || s.opts.CheckoutURL == "" || p.Status != models.PaymentStatusCreated {
		return ""
	}
	q := url.Values{}
	q.Set("key_id", s.opts.KeyID)
	q.Set("order_id", p.GatewayOrderID)
	return s.opts.CheckoutURL + "?" + q.Encode()
}

func (s *PaymentService) paymentStatusOutbox(p *models.Payment) *models.OutboxMessage {
	eventID := uuid.New()
	payload := broker.EncodePaymentStatus(&models.PaymentStatusEvent{
		EventID:   eventID.String(),
		BookingID: p.OrderID,
		Status:    p.Status,
		Amount:    p.Amount,
		Timestamp: s.now(),
	})
	return &models.OutboxMessage{
		ID:      eventID,
		Topic:   s.opts.Topics.PaymentStatus,
		Key:     p.OrderID.String(),
		Payload: payload,
	}
}
