package services_test

import (
	"context"
	"testing"

	"payment-service/gateway"
	"payment-service/models"
	"payment-service/repository"
	"payment-service/signature"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestInitiate_HappyPath(t *testing.T) {
	ledger := newMemoryLedger()
	gw := &mockGateway{
		createOrderResp: &gateway.GatewayOrder{ID: "order_A1", Amount: 2500000, Currency: "INR", Status: "created"},
	}
	svc := newOrchestrator(ledger, gw, &countingPublisher{})

	resp, svcErr := svc.Initiate(context.Background(), "user-1", validInitiateRequest())
	assert.Nil(t, svcErr)
	assert.Equal(t, "order_A1", resp.GatewayOrderID)
	assert.Equal(t, int64(2500000), resp.AmountMinor)
	assert.Equal(t, "INR", resp.Currency)
	assert.Equal(t, testKeyID, resp.PublicKeyID)

	order, err := ledger.FindByGatewayOrderID(context.Background(), "order_A1")
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Equal(t, "user-1", order.UserID)
	assert.Len(t, order.Items, 1)
}

func TestInitiate_RejectsEmptyItems(t *testing.T) {
	svc := newOrchestrator(newMemoryLedger(), &mockGateway{}, &countingPublisher{})

	req := validInitiateRequest()
	req.Items = nil
	_, svcErr := svc.Initiate(context.Background(), "user-1", req)
	assert.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
}

func TestInitiate_RejectsZeroTotal(t *testing.T) {
	svc := newOrchestrator(newMemoryLedger(), &mockGateway{}, &countingPublisher{})

	req := validInitiateRequest()
	req.Amounts = models.OrderAmounts{Total: decimal.Zero}
	_, svcErr := svc.Initiate(context.Background(), "user-1", req)
	assert.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
}

func TestInitiate_RejectsInconsistentTotals(t *testing.T) {
	svc := newOrchestrator(newMemoryLedger(), &mockGateway{}, &countingPublisher{})

	req := validInitiateRequest()
	req.Amounts.Total = decimal.RequireFromString("26000") // subtotal+tax+shipping-discount = 25000
	_, svcErr := svc.Initiate(context.Background(), "user-1", req)
	assert.NotNil(t, svcErr)
	assert.Equal(t, 400, svcErr.StatusCode)
}

func TestInitiate_GatewayFailureLeavesOrderReusable(t *testing.T) {
	ledger := newMemoryLedger()
	gw := &mockGateway{createOrderErr: assert.AnError}
	svc := newOrchestrator(ledger, gw, &countingPublisher{})

	_, svcErr := svc.Initiate(context.Background(), "user-1", validInitiateRequest())
	assert.NotNil(t, svcErr)
	assert.Equal(t, 503, svcErr.StatusCode)

	// exactly one CREATED order without a gateway id remains
	assert.Len(t, ledger.orders, 1)
	var orderID uuid.UUID
	for id, order := range ledger.orders {
		orderID = id
		assert.Equal(t, models.OrderStatusCreated, order.Status)
		assert.Nil(t, order.GatewayOrderID)
	}

	// the retry carries the internal order id and reuses the same row
	gw.createOrderErr = nil
	gw.createOrderResp = &gateway.GatewayOrder{ID: "order_B2", Amount: 2500000, Currency: "INR"}
	req := validInitiateRequest()
	idStr := orderID.String()
	req.InternalOrderID = &idStr

	resp, svcErr := svc.Initiate(context.Background(), "user-1", req)
	assert.Nil(t, svcErr)
	assert.Equal(t, idStr, resp.InternalOrderID)
	assert.Equal(t, "order_B2", resp.GatewayOrderID)
	assert.Len(t, ledger.orders, 1)
}

func TestInitiate_RetryAfterAttachIsIdempotent(t *testing.T) {
	ledger := newMemoryLedger()
	order := seedPaidableOrder(ledger, "order_C3", 2500000)
	gw := &mockGateway{}
	svc := newOrchestrator(ledger, gw, &countingPublisher{})

	req := validInitiateRequest()
	idStr := order.InternalOrderID.String()
	req.InternalOrderID = &idStr

	resp, svcErr := svc.Initiate(context.Background(), "user-1", req)
	assert.Nil(t, svcErr)
	assert.Equal(t, "order_C3", resp.GatewayOrderID)
	assert.Equal(t, 0, gw.createCalls) // no second remote order
}

func confirmFixture(totalMinor int64) (*memoryLedger, *mockGateway, *countingPublisher, *models.Order, *models.ConfirmRequest) {
	ledger := newMemoryLedger()
	order := seedPaidableOrder(ledger, "order_D4", totalMinor)
	gw := &mockGateway{
		fetchPaymentResp: &gateway.GatewayPayment{
			ID: "pay_1", OrderID: "order_D4", Amount: totalMinor, Currency: "INR", Status: "captured", Method: "upi",
		},
	}
	pub := &countingPublisher{}
	req := &models.ConfirmRequest{
		GatewayOrderID: "order_D4",
		PaymentID:      "pay_1",
		Signature:      signature.SignOrderPayment("order_D4", "pay_1", testKeySecret),
	}
	return ledger, gw, pub, order, req
}

func TestConfirm_HappyPath(t *testing.T) {
	ledger, gw, pub, order, req := confirmFixture(2500000)
	svc := newOrchestrator(ledger, gw, pub)

	resp, svcErr := svc.ConfirmClientCallback(context.Background(), req)
	assert.Nil(t, svcErr)
	assert.True(t, resp.Success)
	assert.Equal(t, models.OrderStatusPaid, resp.OrderStatus)
	assert.Equal(t, order.InternalOrderID.String(), resp.InternalOrderID)

	stored, err := ledger.FindByInternalID(context.Background(), order.InternalOrderID)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
	assert.True(t, stored.SignatureVerified)
	assert.NotNil(t, stored.PaidAt)

	captured, err := ledger.FindCapturedPayment(context.Background(), order.InternalOrderID)
	assert.NoError(t, err)
	assert.True(t, captured.SignatureVerified)
	assert.Equal(t, "upi", captured.Method)

	assert.Equal(t, 1, pub.count())
}

func TestConfirm_IdempotentRetry(t *testing.T) {
	ledger, gw, pub, _, req := confirmFixture(2500000)
	svc := newOrchestrator(ledger, gw, pub)

	first, svcErr := svc.ConfirmClientCallback(context.Background(), req)
	assert.Nil(t, svcErr)
	second, svcErr := svc.ConfirmClientCallback(context.Background(), req)
	assert.Nil(t, svcErr)

	assert.Equal(t, first.Success, second.Success)
	assert.Equal(t, first.OrderStatus, second.OrderStatus)
	assert.Equal(t, first.InternalOrderID, second.InternalOrderID)

	// fulfillment fired exactly once
	assert.Equal(t, 1, pub.count())
}

func TestConfirm_ForgedSignature(t *testing.T) {
	ledger, gw, pub, order, req := confirmFixture(2500000)
	req.Signature = signature.SignOrderPayment("order_D4", "pay_1", "attacker_secret")
	svc := newOrchestrator(ledger, gw, pub)

	resp, svcErr := svc.ConfirmClientCallback(context.Background(), req)
	assert.Nil(t, svcErr)
	assert.False(t, resp.Success)
	assert.Equal(t, models.OrderStatusFailed, resp.OrderStatus)
	assert.Contains(t, resp.Message, order.InternalOrderID.String())

	stored, _ := ledger.FindByInternalID(context.Background(), order.InternalOrderID)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
	assert.False(t, stored.SignatureVerified)

	// the attempt is recorded for audit, unverified
	payment, err := ledger.FindPayment(context.Background(), "pay_1")
	assert.NoError(t, err)
	assert.False(t, payment.SignatureVerified)
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)

	assert.Equal(t, 0, pub.count())
}

func TestConfirm_AmountMismatchFails(t *testing.T) {
	ledger, gw, pub, order, req := confirmFixture(2500000)
	gw.fetchPaymentResp.Amount = 100 // replayed proof from a cheaper order
	svc := newOrchestrator(ledger, gw, pub)

	resp, svcErr := svc.ConfirmClientCallback(context.Background(), req)
	assert.Nil(t, svcErr)
	assert.False(t, resp.Success)

	stored, _ := ledger.FindByInternalID(context.Background(), order.InternalOrderID)
	assert.Equal(t, models.OrderStatusFailed, stored.Status)
	assert.Equal(t, 0, pub.count())
}

func TestConfirm_AuthorizedPaymentIsCaptured(t *testing.T) {
	ledger, gw, pub, _, req := confirmFixture(2500000)
	gw.fetchPaymentResp.Status = "authorized"
	gw.captureResp = &gateway.GatewayPayment{
		ID: "pay_1", OrderID: "order_D4", Amount: 2500000, Currency: "INR", Status: "captured", Method: "card",
	}
	svc := newOrchestrator(ledger, gw, pub)

	resp, svcErr := svc.ConfirmClientCallback(context.Background(), req)
	assert.Nil(t, svcErr)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, gw.captureCalls)
	assert.Equal(t, 1, pub.count())
}

func TestConfirm_UnknownOrder(t *testing.T) {
	svc := newOrchestrator(newMemoryLedger(), &mockGateway{}, &countingPublisher{})

	_, svcErr := svc.ConfirmClientCallback(context.Background(), &models.ConfirmRequest{
		GatewayOrderID: "order_missing", PaymentID: "pay_1", Signature: "aa",
	})
	assert.NotNil(t, svcErr)
	assert.Equal(t, 404, svcErr.StatusCode)
}

func TestCancelOrder(t *testing.T) {
	ledger := newMemoryLedger()
	order := seedPaidableOrder(ledger, "order_E5", 10000)
	svc := newOrchestrator(ledger, &mockGateway{}, &countingPublisher{})

	cancelled, svcErr := svc.CancelOrder(context.Background(), order.InternalOrderID)
	assert.Nil(t, svcErr)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	// repeat cancel is a no-op, not an error
	again, svcErr := svc.CancelOrder(context.Background(), order.InternalOrderID)
	assert.Nil(t, svcErr)
	assert.Equal(t, models.OrderStatusCancelled, again.Status)
}

func TestCancelOrder_PaidOrderRejected(t *testing.T) {
	ledger := newMemoryLedger()
	order := seedPaidableOrder(ledger, "order_F6", 10000)
	_, err := ledger.TransitionOrderStatus(context.Background(), order.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated}, models.OrderStatusPaid)
	assert.NoError(t, err)

	svc := newOrchestrator(ledger, &mockGateway{}, &countingPublisher{})
	_, svcErr := svc.CancelOrder(context.Background(), order.InternalOrderID)
	assert.NotNil(t, svcErr)
	assert.Equal(t, 409, svcErr.StatusCode)
}

func TestRequestRefund(t *testing.T) {
	ledger := newMemoryLedger()
	order := seedPaidableOrder(ledger, "order_G7", 10000)
	_, err := ledger.TransitionOrderStatus(context.Background(), order.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated}, models.OrderStatusPaid)
	assert.NoError(t, err)
	assert.NoError(t, ledger.RecordPayment(context.Background(), &models.Payment{
		PaymentID: "pay_2", InternalOrderID: order.InternalOrderID, GatewayOrderID: "order_G7",
		AmountMinorUnits: 10000, Currency: "INR", Status: models.PaymentStatusCaptured, SignatureVerified: true,
	}))

	gw := &mockGateway{refundResp: &gateway.GatewayRefund{ID: "rfnd_1", PaymentID: "pay_2", Amount: 10000, Status: "created"}}
	svc := newOrchestrator(ledger, gw, &countingPublisher{})

	resp, svcErr := svc.RequestRefund(context.Background(), order.InternalOrderID, &models.RefundRequest{})
	assert.Nil(t, svcErr)
	assert.Equal(t, "rfnd_1", resp.RefundID)
	assert.Equal(t, "pay_2", resp.PaymentID)

	// the order stays PAID until the refund webhook lands
	stored, _ := ledger.FindByInternalID(context.Background(), order.InternalOrderID)
	assert.Equal(t, models.OrderStatusPaid, stored.Status)
}

func TestRequestRefund_RejectsUnpaidOrder(t *testing.T) {
	ledger := newMemoryLedger()
	order := seedPaidableOrder(ledger, "order_H8", 10000)
	svc := newOrchestrator(ledger, &mockGateway{}, &countingPublisher{})

	_, svcErr := svc.RequestRefund(context.Background(), order.InternalOrderID, &models.RefundRequest{})
	assert.NotNil(t, svcErr)
	assert.Equal(t, 409, svcErr.StatusCode)
}

func TestOrderStatusNeverRegresses(t *testing.T) {
	ledger := newMemoryLedger()
	order := seedPaidableOrder(ledger, "order_I9", 10000)

	_, err := ledger.TransitionOrderStatus(context.Background(), order.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated}, models.OrderStatusPaid)
	assert.NoError(t, err)

	// a stale CREATED-based transition loses once the order is PAID
	current, err := ledger.TransitionOrderStatus(context.Background(), order.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated}, models.OrderStatusFailed)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
	assert.Equal(t, models.OrderStatusPaid, current.Status)

	// a fresh order cannot skip straight to REFUNDED
	other := seedPaidableOrder(ledger, "order_J10", 10000)
	refunded, err := ledger.TransitionOrderStatus(context.Background(), other.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusPaid}, models.OrderStatusRefunded)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
	assert.Equal(t, models.OrderStatusCreated, refunded.Status)
}
