package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"equipment-booking/internal/broker"
	"equipment-booking/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

func newTestPaymentService(repo *memPayments, gw *fakeGateway) *PaymentService {
	return NewPaymentService(repo, gw, PaymentOptions{
		KeyID:          "rzp_test",
		KeySecret:      testKeySecret,
		WebhookSecret:  testWebhookSecret,
		Currency:       "INR",
		GatewayTimeout: 50 * time.Millisecond,
		CheckoutURL:    "https://pay.example.test/checkout",
		Topics:         testTopics,
	})
}

func openPayment(t *testing.T, s *PaymentService, bookingID uuid.UUID) {
	t.Helper()
	require.NoError(t, s.OnBookingCreated(context.Background(), &models.BookingCreatedEvent{
		BookingID: bookingID, Amount: 100, Currency: "INR", EventType: models.EventTypeBookingCreated,
	}))
}

func webhookBody(t *testing.T, event, orderID, paymentID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"entity": map[string]any{"id": paymentID, "order_id": orderID},
			},
		},
	})
	require.NoError(t, err)
	return body
}

func signed(secret string, body []byte) string {
	return sign([]byte(secret), body)
}

func TestOnBookingCreatedOpensGatewayOrderOnce(t *testing.T) {
	repo := newMemPayments()
	gw := &fakeGateway{}
	s := newTestPaymentService(repo, gw)
	id := uuid.New()

	openPayment(t, s, id)
	openPayment(t, s, id)

	p := repo.get(id)
	assert.Equal(t, models.PaymentStatusCreated, p.Status)
	assert.Equal(t, "order_"+id.String(), p.GatewayOrderID)
	assert.Equal(t, 1, gw.orders)
	assert.Empty(t, repo.messages())
}

func TestGatewayTimeoutIsTransient(t *testing.T) {
	repo := newMemPayments()
	s := newTestPaymentService(repo, &fakeGateway{block: true})
	id := uuid.New()

	err := s.OnBookingCreated(context.Background(), &models.BookingCreatedEvent{BookingID: id, Amount: 100})
	assert.ErrorIs(t, err, models.ErrTransientDependency)
	assert.Empty(t, repo.get(id).GatewayOrderID)

	// Redelivery after the gateway recovers completes the order.
	s.gateway = &fakeGateway{}
	require.NoError(t, s.OnBookingCreated(context.Background(), &models.BookingCreatedEvent{BookingID: id, Amount: 100}))
	assert.NotEmpty(t, repo.get(id).GatewayOrderID)
}

func TestWebhookCapturedEmitsProcessed(t *testing.T) {
	repo := newMemPayments()
	s := newTestPaymentService(repo, &fakeGateway{})
	id := uuid.New()
	openPayment(t, s, id)

	body := webhookBody(t, "payment.captured", "order_"+id.String(), "pay_1")
	require.NoError(t, s.HandleWebhook(context.Background(), body, signed(testWebhookSecret, body)))

	p := repo.get(id)
	assert.Equal(t, models.PaymentStatusProcessed, p.Status)
	assert.Equal(t, "pay_1", p.GatewayPaymentID)

	msgs := repo.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, testTopics.PaymentStatus, msgs[0].Topic)
	assert.Equal(t, id.String(), msgs[0].Key)
	e, err := broker.DecodePaymentStatus(msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessed, e.Status)
	assert.Equal(t, id, e.BookingID)
}

func TestTamperedWebhookIsRejectedWithoutEffect(t *testing.T) {
	repo := newMemPayments()
	s := newTestPaymentService(repo, &fakeGateway{})
	id := uuid.New()
	openPayment(t, s, id)

	body := webhookBody(t, "payment.captured", "order_"+id.String(), "pay_1")
	signature := signed(testWebhookSecret, body)

	for i := range body {
		tampered := append([]byte(nil), body...)
		tampered[i] ^= 0x01
		err := s.HandleWebhook(context.Background(), tampered, signature)
		require.ErrorIs(t, err, models.ErrInvalidSignature, "byte %d", i)
	}

	assert.ErrorIs(t, s.HandleWebhook(context.Background(), body, ""), models.ErrInvalidSignature)
	assert.Equal(t, models.PaymentStatusCreated, repo.get(id).Status)
	assert.Empty(t, repo.messages())
}

func TestWebhookIgnoresUnknownEvents(t *testing.T) {
	repo := newMemPayments()
	s := newTestPaymentService(repo, &fakeGateway{})
	id := uuid.New()
	openPayment(t, s, id)

	body := webhookBody(t, "refund.speed_changed", "order_"+id.String(), "pay_1")
	require.NoError(t, s.HandleWebhook(context.Background(), body, signed(testWebhookSecret, body)))
	assert.Equal(t, models.PaymentStatusCreated, repo.get(id).Status)
}

func TestWebhookOrderIDFallsBackToOrderEntity(t *testing.T) {
	repo := newMemPayments()
	s := newTestPaymentService(repo, &fakeGateway{})
	id := uuid.New()
	openPayment(t, s, id)

	body, err := json.Marshal(map[string]any{
		"event": "order.paid",
		"payload": map[string]any{
			"order": map[string]any{"entity": map[string]any{"id": "order_" + id.String()}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.HandleWebhook(context.Background(), body, signed(testWebhookSecret, body)))
	assert.Equal(t, models.PaymentStatusProcessed, repo.get(id).Status)
}

func TestStaleWebhookDoesNotRegressStatus(t *testing.T) {
	repo := newMemPayments()
	s := newTestPaymentService(repo, &fakeGateway{})
	id := uuid.New()
	openPayment(t, s, id)
	ctx := context.Background()

	captured := webhookBody(t, "payment.captured", "order_"+id.String(), "pay_1")
	authorized := webhookBody(t, "payment.authorized", "order_"+id.String(), "pay_1")
	failed := webhookBody(t, "payment.failed", "order_"+id.String(), "pay_1")

	require.NoError(t, s.HandleWebhook(ctx, captured, signed(testWebhookSecret, captured)))
	require.NoError(t, s.HandleWebhook(ctx, authorized, signed(testWebhookSecret, authorized)))
	require.NoError(t, s.HandleWebhook(ctx, failed, signed(testWebhookSecret, failed)))
	require.NoError(t, s.HandleWebhook(ctx, captured, signed(testWebhookSecret, captured)))

	assert.Equal(t, models.PaymentStatusProcessed, repo.get(id).Status)
	assert.Len(t, repo.messages(), 1)
}

func TestVerifyPayment(t *testing.T) {
	repo := newMemPayments()
	s := newTestPaymentService(repo, &fakeGateway{})
	id := uuid.New()
	openPayment(t, s, id)
	orderID := "order_" + id.String()
	ctx := context.Background()

	_, err := s.VerifyPayment(ctx, orderID, "pay_9", signed(testKeySecret, []byte(orderID+"|pay_other")))
	assert.ErrorIs(t, err, models.ErrInvalidSignature)
	assert.Equal(t, models.PaymentStatusCreated, repo.get(id).Status)

	_, err = s.VerifyPayment(ctx, orderID, "", "abc")
	assert.ErrorIs(t, err, models.ErrValidation)

	p, err := s.VerifyPayment(ctx, orderID, "pay_9", signed(testKeySecret, []byte(orderID+"|pay_9")))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusProcessed, p.Status)
	assert.Equal(t, "pay_9", p.GatewayPaymentID)
}

func TestVerifyUnknownOrderIsNotFound(t *testing.T) {
	s := newTestPaymentService(newMemPayments(), &fakeGateway{})
	_, err := s.VerifyPayment(context.Background(), "order_x", "pay_x", signed(testKeySecret, []byte("order_x|pay_x")))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelledBookingRefundsCapturedPayment(t *testing.T) {
	repo := newMemPayments()
	gw := &fakeGateway{}
	s := newTestPaymentService(repo, gw)
	id := uuid.New()
	openPayment(t, s, id)
	ctx := context.Background()

	body := webhookBody(t, "payment.captured", "order_"+id.String(), "pay_1")
	require.NoError(t, s.HandleWebhook(ctx, body, signed(testWebhookSecret, body)))

	cancelled := &models.BookingStatusEvent{BookingID: id, EquipmentID: 1, Status: models.BookingStatusCancelled, Reason: models.CancelReasonSlotConflict}
	require.NoError(t, s.OnBookingStatus(ctx, cancelled))
	require.NoError(t, s.OnBookingStatus(ctx, cancelled))

	assert.Equal(t, models.PaymentStatusRefunded, repo.get(id).Status)
	assert.Equal(t, []string{"pay_1"}, gw.refunds)

	msgs := repo.messages()
	require.Len(t, msgs, 2)
	e, err := broker.DecodePaymentStatus(msgs[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, e.Status)
}

func TestCaptureAfterCancellationIsRefunded(t *testing.T) {
	repo := newMemPayments()
	gw := &fakeGateway{}
	s := newTestPaymentService(repo, gw)
	id := uuid.New()
	openPayment(t, s, id)
	ctx := context.Background()

	require.NoError(t, s.OnBookingStatus(ctx, &models.BookingStatusEvent{BookingID: id, Status: models.BookingStatusCancelled}))
	assert.True(t, repo.get(id).BookingCancelled)
	assert.Equal(t, models.PaymentStatusCreated, repo.get(id).Status)

	body := webhookBody(t, "payment.captured", "order_"+id.String(), "pay_2")
	require.NoError(t, s.HandleWebhook(ctx, body, signed(testWebhookSecret, body)))

	assert.Equal(t, models.PaymentStatusRefunded, repo.get(id).Status)
	assert.Equal(t, []string{"pay_2"}, gw.refunds)
}

func TestRefundFailureIsTransient(t *testing.T) {
	repo := newMemPayments()
	gw := &fakeGateway{refundErr: errBoom}
	s := newTestPaymentService(repo, gw)
	id := uuid.New()
	openPayment(t, s, id)
	ctx := context.Background()

	body := webhookBody(t, "payment.captured", "order_"+id.String(), "pay_1")
	require.NoError(t, s.HandleWebhook(ctx, body, signed(testWebhookSecret, body)))

	err := s.OnBookingStatus(ctx, &models.BookingStatusEvent{BookingID: id, Status: models.BookingStatusCancelled})
	assert.ErrorIs(t, err, models.ErrTransientDependency)
	assert.Equal(t, models.PaymentStatusProcessed, repo.get(id).Status)

	gw.refundErr = nil
	require.NoError(t, s.OnBookingStatus(ctx, &models.BookingStatusEvent{BookingID: id, Status: models.BookingStatusCancelled}))
	assert.Equal(t, models.PaymentStatusRefunded, repo.get(id).Status)
}

func TestRefundRecordedAfterLostUpdate(t *testing.T) {
	repo := newMemPayments()
	gw := &fakeGateway{}
	s := newTestPaymentService(repo, gw)
	id := uuid.New()
	openPayment(t, s, id)
	ctx := context.Background()

	body := webhookBody(t, "payment.captured", "order_"+id.String(), "pay_1")
	require.NoError(t, s.HandleWebhook(ctx, body, signed(testWebhookSecret, body)))

	cancelled := &models.BookingStatusEvent{BookingID: id, Status: models.BookingStatusCancelled}
	repo.failStatus = models.PaymentStatusRefunded
	require.Error(t, s.OnBookingStatus(ctx, cancelled))
	assert.Equal(t, models.PaymentStatusProcessed, repo.get(id).Status)

	require.NoError(t, s.OnBookingStatus(ctx, cancelled))
	assert.Equal(t, models.PaymentStatusRefunded, repo.get(id).Status)
	assert.Equal(t, []string{"pay_1"}, gw.refunds)
}

func TestCancellationBeforeBookingCreatedSkipsGatewayOrder(t *testing.T) {
	repo := newMemPayments()
	gw := &fakeGateway{}
	s := newTestPaymentService(repo, gw)
	id := uuid.New()

	require.NoError(t, s.OnBookingStatus(context.Background(), &models.BookingStatusEvent{BookingID: id, Status: models.BookingStatusCancelled}))
	openPayment(t, s, id)

	assert.Equal(t, 0, gw.orders)
	assert.Empty(t, repo.get(id).GatewayOrderID)
}

func TestConfirmedBookingStatusIsIgnored(t *testing.T) {
	repo := newMemPayments()
	s := newTestPaymentService(repo, &fakeGateway{})
	id := uuid.New()

	require.NoError(t, s.OnBookingStatus(context.Background(), &models.BookingStatusEvent{BookingID: id, Status: models.BookingStatusConfirmed}))
	_, err := repo.GetPaymentByOrderID(context.Background(), id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetPaymentCheckoutURL(t *testing.T) {
	repo := newMemPayments()
	s := newTestPaymentService(repo, &fakeGateway{})
	id := uuid.New()
	openPayment(t, s, id)

	view, err := s.GetPayment(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example.test/checkout?key_id=rzp_test&order_id=order_"+id.String(), view.CheckoutURL)

	body := webhookBody(t, "payment.captured", "order_"+id.String(), "pay_1")
	require.NoError(t, s.HandleWebhook(context.Background(), body, signed(testWebhookSecret, body)))

	view, err = s.GetPayment(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, view.CheckoutURL)
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(10000), toMinorUnits(100))
	assert.Equal(t, int64(1999), toMinorUnits(19.99))
	assert.Equal(t, int64(0), toMinorUnits(0))
}
