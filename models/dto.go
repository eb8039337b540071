package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Address mirrors the storefront checkout form fields.
type Address struct {
	Name       string `json:"name"`
	Street1    string `json:"street1"`
	Street2    string `json:"street2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type Customer struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone" binding:"required"`
}

type InitiateItem struct {
	ProductID string          `json:"product_id" binding:"required"`
	Name      string          `json:"name" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required,min=1"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderAmounts struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// InitiateRequest is the payload sent by the checkout UI. A retry after a
// gateway timeout may carry the InternalOrderID returned by the first
// attempt so the same order row is reused.
type InitiateRequest struct {
	InternalOrderID *string        `json:"internal_order_id,omitempty"`
	Amounts         OrderAmounts   `json:"amounts" binding:"required"`
	Currency        string         `json:"currency" binding:"required"`
	Customer        Customer       `json:"customer" binding:"required"`
	Items           []InitiateItem `json:"items" binding:"required,dive"`
	ShippingAddress Address        `json:"shipping_address" binding:"required"`
	BillingAddress  *Address       `json:"billing_address,omitempty"`
}

// InitiateResponse carries everything the client needs to open the
// gateway's payment UI.
type InitiateResponse struct {
	InternalOrderID string `json:"internal_order_id"`
	GatewayOrderID  string `json:"gateway_order_id"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`
	PublicKeyID     string `json:"public_key_id"`
}

// ConfirmRequest is the client-reported proof of payment.
type ConfirmRequest struct {
	GatewayOrderID string `json:"gateway_order_id" binding:"required"`
	PaymentID      string `json:"payment_id" binding:"required"`
	Signature      string `json:"signature" binding:"required"`
}

type ConfirmResponse struct {
	Success         bool        `json:"success"`
	OrderStatus     OrderStatus `json:"order_status"`
	InternalOrderID string      `json:"internal_order_id"`
	Message         string      `json:"message,omitempty"`
}

type RefundRequest struct {
	// Amount is the major-unit amount for a partial refund; nil refunds in full.
	Amount *decimal.Decimal  `json:"amount,omitempty"`
	Notes  map[string]string `json:"notes,omitempty"`
}

type RefundResponse struct {
	RefundID        string `json:"refund_id"`
	PaymentID       string `json:"payment_id"`
	InternalOrderID string `json:"internal_order_id"`
	AmountMinor     int64  `json:"amount_minor"`
	Status          string `json:"status"`
}

// FulfillmentItem is the slice of an order item the fulfillment side needs.
type FulfillmentItem struct {
	ProductID      string `json:"product_id"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// OrderFulfillmentEvent is published when an order reaches PAID. Consumers
// (notification dispatch, inventory decrement) act on it asynchronously;
// publish failures never roll back payment state.
type OrderFulfillmentEvent struct {
	Type            string            `json:"type"` // "order_paid"
	InternalOrderID string            `json:"internal_order_id"`
	GatewayOrderID  string            `json:"gateway_order_id"`
	PaymentID       string            `json:"payment_id"`
	UserID          string            `json:"user_id"`
	Items           []FulfillmentItem `json:"items"`
	Customer        Customer          `json:"customer"`
	ShippingAddress string            `json:"shipping_address"`
	SubtotalMinor   int64             `json:"subtotal_minor"`
	TaxMinor        int64             `json:"tax_minor"`
	ShippingMinor   int64             `json:"shipping_minor"`
	DiscountMinor   int64             `json:"discount_minor"`
	TotalMinor      int64             `json:"total_minor"`
	Currency        string            `json:"currency"`
	Timestamp       time.Time         `json:"timestamp"`
}
