package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"payment-service/events"
	"payment-service/gateway"
	"payment-service/models"
	"payment-service/money"
	"payment-service/repository"
	"payment-service/signature"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GatewayAPI is the slice of the gateway client the orchestrator uses.
type GatewayAPI interface {
	CreateOrder(ctx context.Context, amountMajor decimal.Decimal, currency, receipt string, notes map[string]string) (*gateway.GatewayOrder, error)
	FetchOrder(ctx context.Context, gatewayOrderID string) (*gateway.GatewayOrder, error)
	FetchPayment(ctx context.Context, paymentID string) (*gateway.GatewayPayment, error)
	CapturePayment(ctx context.Context, paymentID string, amountMajor decimal.Decimal, currency string) (*gateway.GatewayPayment, error)
	CreateRefund(ctx context.Context, paymentID string, amountMajor *decimal.Decimal, notes map[string]string) (*gateway.GatewayRefund, error)
}

// PaymentOrchestrator drives the payment order lifecycle: creating gateway
// orders, verifying client-reported payment proofs and advancing order state.
type PaymentOrchestrator interface {
	Initiate(ctx context.Context, userID string, req *models.InitiateRequest) (*models.InitiateResponse, *ServiceError)
	ConfirmClientCallback(ctx context.Context, req *models.ConfirmRequest) (*models.ConfirmResponse, *ServiceError)
	GetOrder(ctx context.Context, internalOrderID uuid.UUID) (*models.Order, []models.Payment, *ServiceError)
	RequestRefund(ctx context.Context, internalOrderID uuid.UUID, req *models.RefundRequest) (*models.RefundResponse, *ServiceError)
	CancelOrder(ctx context.Context, internalOrderID uuid.UUID) (*models.Order, *ServiceError)
}

type orchestratorImpl struct {
	ledger             repository.OrderLedger
	gw                 GatewayAPI
	publisher          events.Publisher
	keyID              string // public gateway key id, returned to the client
	orderPaymentSecret string
	maxAmount          decimal.Decimal
	logger             *zap.Logger
}

func NewPaymentOrchestrator(
	ledger repository.OrderLedger,
	gw GatewayAPI,
	publisher events.Publisher,
	keyID string,
	orderPaymentSecret string,
	maxAmount decimal.Decimal,
	logger *zap.Logger,
) PaymentOrchestrator {
	return &orchestratorImpl{
		ledger:             ledger,
		gw:                 gw,
		publisher:          publisher,
		keyID:              keyID,
		orderPaymentSecret: orderPaymentSecret,
		maxAmount:          maxAmount,
		logger:             logger,
	}
}

// Initiate validates the draft, registers an order with the gateway and
// persists it as CREATED. If the gateway call fails the order stays CREATED
// so a client retry carrying the internal order id reuses it instead of
// creating a second remote order.
func (s *orchestratorImpl) Initiate(ctx context.Context, userID string, req *models.InitiateRequest) (*models.InitiateResponse, *ServiceError) {
	totalMinor, svcErr := s.validateDraft(req)
	if svcErr != nil {
		return nil, svcErr
	}

	order, svcErr := s.resolveOrder(ctx, userID, req, totalMinor)
	if svcErr != nil {
		return nil, svcErr
	}

	if order.GatewayOrderID != nil {
		// retry after the gateway call already succeeded
		return s.initiateResponse(order), nil
	}

	gwOrder, err := s.gw.CreateOrder(ctx, req.Amounts.Total, order.Currency, order.InternalOrderID.String(),
		map[string]string{"internal_order_id": order.InternalOrderID.String()})
	if err != nil {
		return nil, s.gatewayFailure(err, order.InternalOrderID,
			"Could not create payment order, retry with internal order id")
	}

	if err := s.ledger.AttachGatewayOrderID(ctx, order.InternalOrderID, gwOrder.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// a concurrent retry attached a different gateway order first;
			// two gateway ids for one order is real corruption, surface it
			s.logger.Error("Gateway order id conflict",
				zap.String("internal_order_id", order.InternalOrderID.String()),
				zap.String("gateway_order_id", gwOrder.ID),
			)
			return nil, &ServiceError{StatusCode: 409, Message: "Order is already bound to a different gateway order"}
		}
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to persist gateway order id"}
	}

	order.GatewayOrderID = &gwOrder.ID
	return s.initiateResponse(order), nil
}

// ConfirmClientCallback verifies the client-reported payment proof. The
// signature check decides nothing on its own: a verified callback is still
// cross-checked against the gateway's own record of the payment before any
// money is credited.
func (s *orchestratorImpl) ConfirmClientCallback(ctx context.Context, req *models.ConfirmRequest) (*models.ConfirmResponse, *ServiceError) {
	order, err := s.ledger.FindByGatewayOrderID(ctx, req.GatewayOrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ServiceError{StatusCode: 404, Message: "Unknown order"}
		}
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to look up order"}
	}

	verified := signature.VerifyOrderPayment(req.GatewayOrderID, req.PaymentID, req.Signature, s.orderPaymentSecret)

	if order.Status == models.OrderStatusPaid {
		// client retry on a slow network; nothing to mutate either way
		if verified {
			return s.confirmSuccess(order), nil
		}
		return s.confirmFailure(order), nil
	}

	if !verified {
		s.logger.Warn("Payment signature verification failed",
			zap.String("gateway_order_id", req.GatewayOrderID),
			zap.String("payment_id", req.PaymentID),
			zap.String("internal_order_id", order.InternalOrderID.String()),
		)
		s.recordFailedPayment(ctx, order, req, false)
		s.failOrder(ctx, order.InternalOrderID)
		return s.confirmFailure(order), nil
	}

	// signed correctly, but the signature proves origin, not content: fetch
	// the gateway's record to rule out replays against a different order
	gwPayment, err := s.gw.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, s.gatewayFailure(err, order.InternalOrderID, "Could not verify payment with gateway, retry")
	}

	if gwPayment.OrderID != req.GatewayOrderID ||
		gwPayment.Amount != order.TotalMinor ||
		!strings.EqualFold(gwPayment.Currency, order.Currency) {
		s.logger.Warn("Payment cross-check mismatch",
			zap.String("payment_id", req.PaymentID),
			zap.String("internal_order_id", order.InternalOrderID.String()),
			zap.Int64("gateway_amount", gwPayment.Amount),
			zap.Int64("order_amount", order.TotalMinor),
		)
		s.recordFailedPayment(ctx, order, req, true)
		s.failOrder(ctx, order.InternalOrderID)
		return s.confirmFailure(order), nil
	}

	switch gwPayment.Status {
	case "captured":
	case "authorized":
		captured, err := s.gw.CapturePayment(ctx, req.PaymentID, money.ToMajorUnits(order.TotalMinor), order.Currency)
		if err != nil {
			return nil, s.gatewayFailure(err, order.InternalOrderID, "Could not capture payment, retry")
		}
		gwPayment = captured
	default:
		s.recordFailedPayment(ctx, order, req, true)
		s.failOrder(ctx, order.InternalOrderID)
		return s.confirmFailure(order), nil
	}

	now := time.Now()
	payment := &models.Payment{
		PaymentID:          req.PaymentID,
		InternalOrderID:    order.InternalOrderID,
		GatewayOrderID:     req.GatewayOrderID,
		AmountMinorUnits:   gwPayment.Amount,
		Currency:           order.Currency,
		Status:             models.PaymentStatusCaptured,
		Method:             gwPayment.Method,
		Signature:          req.Signature,
		SignatureVerified:  true,
		RawGatewayResponse: string(gwPayment.Raw),
		CapturedAt:         &now,
	}
	if err := s.ledger.RecordPayment(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			s.logger.Error("A different captured payment already exists for order",
				zap.String("internal_order_id", order.InternalOrderID.String()),
				zap.String("payment_id", req.PaymentID),
			)
			return nil, &ServiceError{StatusCode: 409, Message: "Order already has a captured payment"}
		}
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to record payment"}
	}

	updated, err := s.ledger.TransitionOrderStatus(ctx, order.InternalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated, models.OrderStatusPending}, models.OrderStatusPaid)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			if updated != nil && updated.Status == models.OrderStatusPaid {
				// lost the race to the webhook; it fired fulfillment
				return s.confirmSuccess(updated), nil
			}
			return nil, &ServiceError{StatusCode: 409, Message: "Order is not in a payable state"}
		}
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to update order status"}
	}

	s.fireFulfillment(ctx, updated, req.PaymentID)
	return s.confirmSuccess(updated), nil
}

func (s *orchestratorImpl) GetOrder(ctx context.Context, internalOrderID uuid.UUID) (*models.Order, []models.Payment, *ServiceError) {
	order, err := s.ledger.FindByInternalID(ctx, internalOrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, &ServiceError{StatusCode: 404, Message: "Order not found"}
		}
		return nil, nil, &ServiceError{StatusCode: 500, Message: "Failed to fetch order"}
	}
	payments, err := s.ledger.FindPaymentsByOrder(ctx, internalOrderID)
	if err != nil {
		return nil, nil, &ServiceError{StatusCode: 500, Message: "Failed to fetch payments"}
	}
	return order, payments, nil
}

// RequestRefund asks the gateway to refund the captured payment of a PAID
// order. The order stays PAID until the gateway's refund webhook lands; the
// webhook is the source of truth for the REFUNDED transition.
func (s *orchestratorImpl) RequestRefund(ctx context.Context, internalOrderID uuid.UUID, req *models.RefundRequest) (*models.RefundResponse, *ServiceError) {
	order, err := s.ledger.FindByInternalID(ctx, internalOrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ServiceError{StatusCode: 404, Message: "Order not found"}
		}
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to fetch order"}
	}
	if order.Status != models.OrderStatusPaid {
		return nil, &ServiceError{StatusCode: 409, Message: "Only paid orders can be refunded"}
	}

	payment, err := s.ledger.FindCapturedPayment(ctx, internalOrderID)
	if err != nil {
		s.logger.Error("Paid order without a captured payment",
			zap.String("internal_order_id", internalOrderID.String()), zap.Error(err))
		return nil, &ServiceError{StatusCode: 500, Message: "No captured payment on record"}
	}

	refund, err := s.gw.CreateRefund(ctx, payment.PaymentID, req.Amount, req.Notes)
	if err != nil {
		return nil, s.gatewayFailure(err, internalOrderID, "Refund request failed")
	}

	s.logger.Info("Refund requested",
		zap.String("internal_order_id", internalOrderID.String()),
		zap.String("payment_id", payment.PaymentID),
		zap.String("refund_id", refund.ID),
	)
	return &models.RefundResponse{
		RefundID:        refund.ID,
		PaymentID:       payment.PaymentID,
		InternalOrderID: internalOrderID.String(),
		AmountMinor:     refund.Amount,
		Status:          refund.Status,
	}, nil
}

func (s *orchestratorImpl) CancelOrder(ctx context.Context, internalOrderID uuid.UUID) (*models.Order, *ServiceError) {
	order, err := s.ledger.TransitionOrderStatus(ctx, internalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated, models.OrderStatusPending}, models.OrderStatusCancelled)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &ServiceError{StatusCode: 404, Message: "Order not found"}
		}
		if errors.Is(err, repository.ErrInvalidTransition) {
			if order != nil && order.Status == models.OrderStatusCancelled {
				return order, nil // already cancelled, idempotent
			}
			return nil, &ServiceError{StatusCode: 409, Message: "Order can no longer be cancelled"}
		}
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to cancel order"}
	}
	return order, nil
}

// ---- helpers ----

func (s *orchestratorImpl) validateDraft(req *models.InitiateRequest) (int64, *ServiceError) {
	if len(req.Items) == 0 {
		return 0, &ServiceError{StatusCode: 400, Message: "At least one item is required"}
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return 0, &ServiceError{StatusCode: 400, Message: "Item quantity must be at least 1"}
		}
		if item.UnitPrice.IsNegative() {
			return 0, &ServiceError{StatusCode: 400, Message: "Item unit price must not be negative"}
		}
	}
	if req.Customer.Name == "" || req.Customer.Email == "" || req.Customer.Phone == "" {
		return 0, &ServiceError{StatusCode: 400, Message: "Customer name, email and phone are required"}
	}
	if req.Currency == "" {
		return 0, &ServiceError{StatusCode: 400, Message: "Currency is required"}
	}

	if !money.ValidateAmount(req.Amounts.Total, s.maxAmount) {
		return 0, &ServiceError{StatusCode: 400, Message: "Order total is out of the accepted range"}
	}

	minor := func(d decimal.Decimal) int64 { v, _ := money.ToMinorUnits(d); return v }
	for _, d := range []decimal.Decimal{req.Amounts.Subtotal, req.Amounts.Tax, req.Amounts.Shipping, req.Amounts.Discount, req.Amounts.Total} {
		if d.IsNegative() {
			return 0, &ServiceError{StatusCode: 400, Message: "Amounts must not be negative"}
		}
	}
	totalMinor := minor(req.Amounts.Total)
	computed := minor(req.Amounts.Subtotal) + minor(req.Amounts.Tax) + minor(req.Amounts.Shipping) - minor(req.Amounts.Discount)
	if diff := totalMinor - computed; diff > 1 || diff < -1 {
		return 0, &ServiceError{StatusCode: 400, Message: "Order total does not match subtotal + tax + shipping - discount"}
	}
	return totalMinor, nil
}

// resolveOrder returns the order to initiate against: an existing CREATED
// order when the request is a retry, a freshly persisted one otherwise.
func (s *orchestratorImpl) resolveOrder(ctx context.Context, userID string, req *models.InitiateRequest, totalMinor int64) (*models.Order, *ServiceError) {
	if req.InternalOrderID != nil {
		id, err := uuid.Parse(*req.InternalOrderID)
		if err != nil {
			return nil, &ServiceError{StatusCode: 400, Message: "Invalid internal order id"}
		}
		order, err := s.ledger.FindByInternalID(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, &ServiceError{StatusCode: 404, Message: "Order not found"}
			}
			return nil, &ServiceError{StatusCode: 500, Message: "Failed to fetch order"}
		}
		if order.Status != models.OrderStatusCreated {
			return nil, &ServiceError{StatusCode: 409, Message: "Order is no longer awaiting payment initiation"}
		}
		return order, nil
	}

	minor := func(d decimal.Decimal) int64 { v, _ := money.ToMinorUnits(d); return v }
	shippingJSON, _ := json.Marshal(req.ShippingAddress)

	order := &models.Order{
		InternalOrderID: uuid.New(),
		UserID:          userID,
		SubtotalMinor:   minor(req.Amounts.Subtotal),
		TaxMinor:        minor(req.Amounts.Tax),
		ShippingMinor:   minor(req.Amounts.Shipping),
		DiscountMinor:   minor(req.Amounts.Discount),
		TotalMinor:      totalMinor,
		Currency:        strings.ToUpper(req.Currency),
		CustomerName:    req.Customer.Name,
		CustomerEmail:   req.Customer.Email,
		CustomerPhone:   req.Customer.Phone,
		ShippingAddress: string(shippingJSON),
		Status:          models.OrderStatusCreated,
	}
	if req.BillingAddress != nil {
		billingJSON, _ := json.Marshal(req.BillingAddress)
		billing := string(billingJSON)
		order.BillingAddress = &billing
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, models.OrderItem{
			InternalOrderID: order.InternalOrderID,
			ProductID:       item.ProductID,
			Name:            item.Name,
			Quantity:        item.Quantity,
			UnitPriceMinor:  minor(item.UnitPrice),
		})
	}

	if err := s.ledger.CreateOrder(ctx, order); err != nil {
		s.logger.Error("Failed to persist order", zap.Error(err))
		return nil, &ServiceError{StatusCode: 500, Message: "Failed to create order"}
	}
	return order, nil
}

func (s *orchestratorImpl) initiateResponse(order *models.Order) *models.InitiateResponse {
	resp := &models.InitiateResponse{
		InternalOrderID: order.InternalOrderID.String(),
		AmountMinor:     order.TotalMinor,
		Currency:        order.Currency,
		PublicKeyID:     s.keyID,
	}
	if order.GatewayOrderID != nil {
		resp.GatewayOrderID = *order.GatewayOrderID
	}
	return resp
}

func (s *orchestratorImpl) confirmSuccess(order *models.Order) *models.ConfirmResponse {
	return &models.ConfirmResponse{
		Success:         true,
		OrderStatus:     order.Status,
		InternalOrderID: order.InternalOrderID.String(),
	}
}

func (s *orchestratorImpl) confirmFailure(order *models.Order) *models.ConfirmResponse {
	return &models.ConfirmResponse{
		Success:         false,
		OrderStatus:     models.OrderStatusFailed,
		InternalOrderID: order.InternalOrderID.String(),
		Message:         fmt.Sprintf("Payment could not be verified, contact support with order id %s", order.InternalOrderID),
	}
}

func (s *orchestratorImpl) recordFailedPayment(ctx context.Context, order *models.Order, req *models.ConfirmRequest, signatureOK bool) {
	payment := &models.Payment{
		PaymentID:         req.PaymentID,
		InternalOrderID:   order.InternalOrderID,
		GatewayOrderID:    req.GatewayOrderID,
		AmountMinorUnits:  order.TotalMinor,
		Currency:          order.Currency,
		Status:            models.PaymentStatusFailed,
		Signature:         req.Signature,
		SignatureVerified: signatureOK,
	}
	if err := s.ledger.RecordPayment(ctx, payment); err != nil {
		s.logger.Error("Failed to record failed payment",
			zap.String("payment_id", req.PaymentID), zap.Error(err))
	}
}

// failOrder moves a non-terminal order to FAILED; an already-terminal order
// is left alone.
func (s *orchestratorImpl) failOrder(ctx context.Context, internalOrderID uuid.UUID) {
	_, err := s.ledger.TransitionOrderStatus(ctx, internalOrderID,
		[]models.OrderStatus{models.OrderStatusCreated, models.OrderStatusPending}, models.OrderStatusFailed)
	if err != nil && !errors.Is(err, repository.ErrInvalidTransition) {
		s.logger.Error("Failed to mark order FAILED",
			zap.String("internal_order_id", internalOrderID.String()), zap.Error(err))
	}
}

// fireFulfillment publishes the order-paid event. Best-effort: a publish
// failure is logged and never rolls back the PAID transition.
func (s *orchestratorImpl) fireFulfillment(ctx context.Context, order *models.Order, paymentID string) {
	event := BuildFulfillmentEvent(order, paymentID)
	if err := s.publisher.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Fulfillment publish failed",
			zap.String("internal_order_id", order.InternalOrderID.String()), zap.Error(err))
	}
}

func (s *orchestratorImpl) gatewayFailure(err error, internalOrderID uuid.UUID, retryMsg string) *ServiceError {
	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) && gwErr.HTTPStatus < 500 {
		return &ServiceError{
			StatusCode: 502,
			Message:    fmt.Sprintf("%s (%s) for order %s", gwErr.Message, gwErr.Code, internalOrderID),
		}
	}
	return &ServiceError{
		StatusCode: 503,
		Message:    fmt.Sprintf("%s %s", retryMsg, internalOrderID),
	}
}

// BuildFulfillmentEvent flattens an order into the payload the fulfillment
// collaborators consume. Shared with the webhook processor.
func BuildFulfillmentEvent(order *models.Order, paymentID string) *models.OrderFulfillmentEvent {
	items := make([]models.FulfillmentItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.FulfillmentItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
		})
	}
	gatewayOrderID := ""
	if order.GatewayOrderID != nil {
		gatewayOrderID = *order.GatewayOrderID
	}
	return &models.OrderFulfillmentEvent{
		Type:            "order_paid",
		InternalOrderID: order.InternalOrderID.String(),
		GatewayOrderID:  gatewayOrderID,
		PaymentID:       paymentID,
		UserID:          order.UserID,
		Items:           items,
		Customer: models.Customer{
			Name:  order.CustomerName,
			Email: order.CustomerEmail,
			Phone: order.CustomerPhone,
		},
		ShippingAddress: order.ShippingAddress,
		SubtotalMinor:   order.SubtotalMinor,
		TaxMinor:        order.TaxMinor,
		ShippingMinor:   order.ShippingMinor,
		DiscountMinor:   order.DiscountMinor,
		TotalMinor:      order.TotalMinor,
		Currency:        order.Currency,
		Timestamp:       time.Now().UTC(),
	}
}
