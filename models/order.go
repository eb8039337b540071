package models

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusFailed    OrderStatus = "FAILED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Order is one checkout attempt. Rows are never deleted; refunds and
// cancellations are status transitions so the audit trail survives.
type Order struct {
	InternalOrderID   uuid.UUID   `gorm:"type:uuid;primaryKey" json:"internal_order_id"`
	GatewayOrderID    *string     `gorm:"uniqueIndex" json:"gateway_order_id,omitempty"`
	UserID            string      `gorm:"index;not null" json:"user_id"`
	Items             []OrderItem `gorm:"foreignKey:InternalOrderID;constraint:OnDelete:CASCADE" json:"items"`
	SubtotalMinor     int64       `gorm:"not null" json:"subtotal_minor"`
	TaxMinor          int64       `json:"tax_minor"`
	ShippingMinor     int64       `json:"shipping_minor"`
	DiscountMinor     int64       `json:"discount_minor"`
	TotalMinor        int64       `gorm:"not null" json:"total_minor"`
	Currency          string      `gorm:"type:varchar(10);not null" json:"currency"`
	CustomerName      string      `gorm:"not null" json:"customer_name"`
	CustomerEmail     string      `gorm:"not null" json:"customer_email"`
	CustomerPhone     string      `gorm:"not null" json:"customer_phone"`
	ShippingAddress   string      `gorm:"type:jsonb" json:"shipping_address"`
	BillingAddress    *string     `gorm:"type:jsonb" json:"billing_address,omitempty"`
	Status            OrderStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	SignatureVerified bool        `gorm:"not null;default:false" json:"signature_verified"`
	PaidAt            *time.Time  `json:"paid_at,omitempty"`
	RefundedAt        *time.Time  `json:"refunded_at,omitempty"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type OrderItem struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	InternalOrderID uuid.UUID `gorm:"type:uuid;not null;index" json:"internal_order_id"`
	ProductID       string    `gorm:"not null" json:"product_id"`
	Name            string    `gorm:"not null" json:"name"`
	Quantity        int       `gorm:"not null" json:"quantity"`
	UnitPriceMinor  int64     `gorm:"not null" json:"unit_price_minor"`
}

// IsTerminal reports whether no further status transition is allowed
// except PAID -> REFUNDED.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFailed, OrderStatusRefunded, OrderStatusCancelled:
		return true
	}
	return false
}
