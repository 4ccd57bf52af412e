package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"equipment-booking/internal/models"
	"equipment-booking/internal/util"

	razorpay "github.com/razorpay/razorpay-go"
	"go.uber.org/zap"
)

// orderAPI and refundAPI are the parts of the Razorpay client the gateway
// calls.
type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type refundAPI interface {
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// Razorpay opens orders and issues refunds at Razorpay.
type Razorpay struct {
	orders   orderAPI
	payments refundAPI
	logger   *zap.Logger
}

func NewRazorpay(keyID, keySecret string) *Razorpay {
	client := razorpay.NewClient(keyID, keySecret)
	return &Razorpay{
		orders:   client.Order,
		payments: client.Payment,
		logger:   util.Named("razorpay"),
	}
}

type result struct {
	body map[string]interface{}
	err  error
}

// call runs fn, which cannot be cancelled, and gives up waiting when ctx is
// done.
func call(ctx context.Context, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	done := make(chan result, 1)
	go func() {
		body, err := fn()
		done <- result{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.body, r.err
	}
}

func idOf(body map[string]interface{}) (string, error) {
	id, _ := body["id"].(string)
	if id == "" {
		return "", errors.New("response carries no id")
	}
	return id, nil
}

// CreateOrder opens an order for amount minor units. receipt ties the order
// to the booking.
func (r *Razorpay) CreateOrder(ctx context.Context, receipt string, amount int64, currency string) (string, error) {
	body, err := call(ctx, func() (map[string]interface{}, error) {
		return r.orders.Create(map[string]interface{}{
			"amount":   amount,
			"currency": currency,
			"receipt":  receipt,
		}, nil)
	})
	if err != nil {
		r.logger.Error("Order creation failed", zap.String("receipt", receipt), zap.Error(err))
		return "", models.NewTransientError("gateway", fmt.Errorf("create order: %w", err))
	}
	id, err := idOf(body)
	if err != nil {
		return "", models.NewTransientError("gateway", fmt.Errorf("create order: %w", err))
	}
	return id, nil
}

// Refund refunds amount minor units of a captured payment. receipt ties the
// refund to the booking. A payment that the gateway reports as fully
// refunded yields models.ErrAlreadyRefunded.
func (r *Razorpay) Refund(ctx context.Context, paymentID string, amount int64, receipt string) (string, error) {
	body, err := call(ctx, func() (map[string]interface{}, error) {
		return r.payments.Refund(paymentID, int(amount), map[string]interface{}{
			"receipt": receipt,
			"notes":   map[string]interface{}{"booking_id": receipt},
		}, nil)
	})
	if err != nil && alreadyRefunded(err) {
		r.logger.Info("Payment already refunded", zap.String("payment_id", paymentID))
		return "", fmt.Errorf("refund %s: %w", paymentID, models.ErrAlreadyRefunded)
	}
	if err != nil {
		r.logger.Error("Refund failed", zap.String("payment_id", paymentID), zap.Error(err))
		return "", models.NewTransientError("gateway", fmt.Errorf("refund: %w", err))
	}
	id, err := idOf(body)
	if err != nil {
		return "", models.NewTransientError("gateway", fmt.Errorf("refund: %w", err))
	}
	return id, nil
}

// alreadyRefunded recognises the rejection Razorpay sends when a payment has
// no refundable amount left.
func alreadyRefunded(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "fully refunded")
}
