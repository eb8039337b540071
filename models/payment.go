package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "CREATED"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusCaptured   PaymentStatus = "CAPTURED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

// Payment is one gateway payment attempt against an Order. The primary key
// is the gateway-issued payment id, so replays of the same payment upsert
// in place instead of inserting a second row.
type Payment struct {
	PaymentID          string        `gorm:"primaryKey" json:"payment_id"`
	InternalOrderID    uuid.UUID     `gorm:"type:uuid;index;not null" json:"internal_order_id"`
	GatewayOrderID     string        `gorm:"index;not null" json:"gateway_order_id"`
	AmountMinorUnits   int64         `gorm:"not null" json:"amount_minor_units"`
	Currency           string        `gorm:"type:varchar(10);not null" json:"currency"`
	Status             PaymentStatus `gorm:"type:varchar(20);not null" json:"status"`
	Method             string        `gorm:"type:varchar(30)" json:"method"`
	Signature          string        `json:"-"`
	SignatureVerified  bool          `gorm:"not null;default:false" json:"signature_verified"`
	RawGatewayResponse string        `gorm:"type:jsonb" json:"-"`
	CapturedAt         *time.Time    `json:"captured_at,omitempty"`
	CreatedAt          time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}
