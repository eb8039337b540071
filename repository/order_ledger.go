package repository

import (
	"context"
	"errors"

	"payment-service/models"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrConflict          = errors.New("conflicting record exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// OrderLedger owns the persisted Order, Payment and WebhookEvent records and
// every mutation of them. Status changes go through TransitionOrderStatus,
// whose conditional update on the stored status is the only lock this
// service needs: of two concurrent callers exactly one wins the swap and
// the loser observes the already-advanced state.
type OrderLedger interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	AttachGatewayOrderID(ctx context.Context, internalOrderID uuid.UUID, gatewayOrderID string) error
	FindByInternalID(ctx context.Context, internalOrderID uuid.UUID) (*models.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Order, error)

	// RecordPayment upserts by payment id. A second CAPTURED payment with a
	// different id for the same order is rejected with ErrConflict.
	RecordPayment(ctx context.Context, payment *models.Payment) error
	FindPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	FindPaymentsByOrder(ctx context.Context, internalOrderID uuid.UUID) ([]models.Payment, error)
	FindCapturedPayment(ctx context.Context, internalOrderID uuid.UUID) (*models.Payment, error)

	// TransitionOrderStatus swaps the order's status to `to` only if the
	// stored status is in `from`, returning ErrInvalidTransition otherwise.
	// PAID sets paid_at and signature_verified, REFUNDED sets refunded_at.
	TransitionOrderStatus(ctx context.Context, internalOrderID uuid.UUID, from []models.OrderStatus, to models.OrderStatus) (*models.Order, error)

	// InsertWebhookEvent inserts the event if its gateway event id is unseen.
	// When a row already exists it is returned with inserted=false.
	InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) (inserted bool, existing *models.WebhookEvent, err error)
	MarkWebhookVerified(ctx context.Context, gatewayEventID string) error
	MarkWebhookProcessed(ctx context.Context, gatewayEventID string, processingError *string) error
	RecordWebhookFailure(ctx context.Context, gatewayEventID string, processingError string) error
}
