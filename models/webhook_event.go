package models

import "time"

// WebhookEvent stores every received gateway notification, keyed by the
// gateway's own event id for deduplication. The row is inserted before any
// verification work so a crash mid-handling never loses the event.
type WebhookEvent struct {
	GatewayEventID    string     `gorm:"primaryKey" json:"gateway_event_id"`
	EventType         string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	EntityType        string     `gorm:"type:varchar(50)" json:"entity_type"`
	PayloadBytes      []byte     `gorm:"type:bytea;not null" json:"-"`
	SignatureVerified bool       `gorm:"not null;default:false" json:"signature_verified"`
	Processed         bool       `gorm:"not null;default:false;index" json:"processed"`
	ProcessingError   *string    `json:"processing_error,omitempty"`
	ReceivedAt        time.Time  `gorm:"autoCreateTime" json:"received_at"`
	ProcessedAt       *time.Time `json:"processed_at,omitempty"`
}
