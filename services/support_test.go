package services_test

import (
	"context"
	"sync"
	"time"

	"payment-service/gateway"
	"payment-service/models"
	"payment-service/repository"
	"payment-service/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// memoryLedger is an in-memory OrderLedger with the same conflict and CAS
// semantics as the gorm implementation.
type memoryLedger struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*models.Order
	payments map[string]*models.Payment
	events   map[string]*models.WebhookEvent

	transitions int // successful status swaps, for mutation counting
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		orders:   make(map[uuid.UUID]*models.Order),
		payments: make(map[string]*models.Payment),
		events:   make(map[string]*models.WebhookEvent),
	}
}

func (m *memoryLedger) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.InternalOrderID == uuid.Nil {
		order.InternalOrderID = uuid.New()
	}
	if order.Status == "" {
		order.Status = models.OrderStatusCreated
	}
	order.CreatedAt = time.Now()
	m.orders[order.InternalOrderID] = order
	return nil
}

func (m *memoryLedger) AttachGatewayOrderID(_ context.Context, internalOrderID uuid.UUID, gatewayOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[internalOrderID]
	if !ok {
		return repository.ErrNotFound
	}
	if order.GatewayOrderID != nil {
		if *order.GatewayOrderID == gatewayOrderID {
			return nil
		}
		return repository.ErrConflict
	}
	order.GatewayOrderID = &gatewayOrderID
	return nil
}

func (m *memoryLedger) FindByInternalID(_ context.Context, internalOrderID uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[internalOrderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return order, nil
}

func (m *memoryLedger) FindByGatewayOrderID(_ context.Context, gatewayOrderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.GatewayOrderID != nil && *order.GatewayOrderID == gatewayOrderID {
			return order, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryLedger) RecordPayment(_ context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if payment.Status == models.PaymentStatusCaptured {
		for _, existing := range m.payments {
			if existing.InternalOrderID == payment.InternalOrderID &&
				existing.Status == models.PaymentStatusCaptured &&
				existing.PaymentID != payment.PaymentID {
				return repository.ErrConflict
			}
		}
	}
	copied := *payment
	m.payments[payment.PaymentID] = &copied
	return nil
}

func (m *memoryLedger) FindPayment(_ context.Context, paymentID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payment, ok := m.payments[paymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *payment
	return &copied, nil
}

func (m *memoryLedger) FindPaymentsByOrder(_ context.Context, internalOrderID uuid.UUID) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.InternalOrderID == internalOrderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memoryLedger) FindCapturedPayment(_ context.Context, internalOrderID uuid.UUID) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.InternalOrderID == internalOrderID && p.Status == models.PaymentStatusCaptured {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryLedger) TransitionOrderStatus(_ context.Context, internalOrderID uuid.UUID, from []models.OrderStatus, to models.OrderStatus) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[internalOrderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	matched := false
	for _, f := range from {
		if order.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return order, repository.ErrInvalidTransition
	}
	now := time.Now()
	order.Status = to
	order.UpdatedAt = now
	switch to {
	case models.OrderStatusPaid:
		order.PaidAt = &now
		order.SignatureVerified = true
	case models.OrderStatusRefunded:
		order.RefundedAt = &now
	}
	m.transitions++
	return order, nil
}

func (m *memoryLedger) InsertWebhookEvent(_ context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.events[event.GatewayEventID]; ok {
		return false, existing, nil
	}
	event.ReceivedAt = time.Now()
	m.events[event.GatewayEventID] = event
	return true, event, nil
}

func (m *memoryLedger) MarkWebhookVerified(_ context.Context, gatewayEventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event, ok := m.events[gatewayEventID]; ok {
		event.SignatureVerified = true
	}
	return nil
}

func (m *memoryLedger) MarkWebhookProcessed(_ context.Context, gatewayEventID string, processingError *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[gatewayEventID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	event.Processed = true
	event.ProcessedAt = &now
	event.ProcessingError = processingError
	return nil
}

func (m *memoryLedger) RecordWebhookFailure(_ context.Context, gatewayEventID string, processingError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if event, ok := m.events[gatewayEventID]; ok {
		event.ProcessingError = &processingError
	}
	return nil
}

// ---- mock gateway ----

type mockGateway struct {
	createOrderResp *gateway.GatewayOrder
	createOrderErr  error
	createCalls     int

	fetchPaymentResp *gateway.GatewayPayment
	fetchPaymentErr  error

	captureResp  *gateway.GatewayPayment
	captureErr   error
	captureCalls int

	refundResp *gateway.GatewayRefund
	refundErr  error
}

func (g *mockGateway) CreateOrder(_ context.Context, _ decimal.Decimal, _, _ string, _ map[string]string) (*gateway.GatewayOrder, error) {
	g.createCalls++
	return g.createOrderResp, g.createOrderErr
}

func (g *mockGateway) FetchOrder(_ context.Context, _ string) (*gateway.GatewayOrder, error) {
	return g.createOrderResp, g.createOrderErr
}

func (g *mockGateway) FetchPayment(_ context.Context, _ string) (*gateway.GatewayPayment, error) {
	return g.fetchPaymentResp, g.fetchPaymentErr
}

func (g *mockGateway) CapturePayment(_ context.Context, _ string, _ decimal.Decimal, _ string) (*gateway.GatewayPayment, error) {
	g.captureCalls++
	return g.captureResp, g.captureErr
}

func (g *mockGateway) CreateRefund(_ context.Context, _ string, _ *decimal.Decimal, _ map[string]string) (*gateway.GatewayRefund, error) {
	return g.refundResp, g.refundErr
}

// ---- counting publisher ----

type countingPublisher struct {
	mu     sync.Mutex
	events []*models.OrderFulfillmentEvent
}

func (p *countingPublisher) PublishOrderPaid(_ context.Context, event *models.OrderFulfillmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// ---- fixture helpers ----

const (
	testKeyID         = "key_test_id"
	testKeySecret     = "key_test_secret"
	testWebhookSecret = "webhook_test_secret"
)

func newOrchestrator(ledger *memoryLedger, gw *mockGateway, pub *countingPublisher) services.PaymentOrchestrator {
	logger, _ := zap.NewDevelopment()
	return services.NewPaymentOrchestrator(ledger, gw, pub, testKeyID, testKeySecret, decimal.NewFromInt(1_000_000), logger)
}

func newWebhookProcessor(ledger *memoryLedger, pub *countingPublisher) services.WebhookProcessor {
	logger, _ := zap.NewDevelopment()
	return services.NewWebhookProcessor(ledger, pub, testWebhookSecret, logger)
}

func validInitiateRequest() *models.InitiateRequest {
	return &models.InitiateRequest{
		Amounts: models.OrderAmounts{
			Subtotal: decimal.RequireFromString("24000"),
			Tax:      decimal.RequireFromString("800"),
			Shipping: decimal.RequireFromString("400"),
			Discount: decimal.RequireFromString("200"),
			Total:    decimal.RequireFromString("25000"),
		},
		Currency: "INR",
		Customer: models.Customer{Name: "Asha Rao", Email: "asha@example.com", Phone: "+919800000000"},
		Items: []models.InitiateItem{
			{ProductID: "prod_1", Name: "Espresso Machine", Quantity: 1, UnitPrice: decimal.RequireFromString("24000")},
		},
		ShippingAddress: models.Address{
			Name: "Asha Rao", Street1: "12 MG Road", City: "Bengaluru",
			State: "KA", PostalCode: "560001", Country: "IN",
		},
	}
}

// seedPaidableOrder creates a CREATED order bound to gatewayOrderID.
func seedPaidableOrder(ledger *memoryLedger, gatewayOrderID string, totalMinor int64) *models.Order {
	order := &models.Order{
		InternalOrderID: uuid.New(),
		GatewayOrderID:  &gatewayOrderID,
		UserID:          "user-1",
		SubtotalMinor:   totalMinor,
		TotalMinor:      totalMinor,
		Currency:        "INR",
		CustomerName:    "Asha Rao",
		CustomerEmail:   "asha@example.com",
		CustomerPhone:   "+919800000000",
		Status:          models.OrderStatusCreated,
		Items: []models.OrderItem{
			{ProductID: "prod_1", Name: "Espresso Machine", Quantity: 1, UnitPriceMinor: totalMinor},
		},
	}
	_ = ledger.CreateOrder(context.Background(), order)
	return order
}
